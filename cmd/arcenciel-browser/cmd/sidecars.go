package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/sidecar"
)

var (
	sidecarTypes     []string
	sidecarOverwrite bool
	sidecarPreview   bool
)

var sidecarsCmd = &cobra.Command{
	Use:   "sidecars",
	Short: "Create <model>.json info files for models already on disk",
	Long: `Scans the preset folders of the selected model types for weight files
(.safetensors, .ckpt, .bin, .pt), hashes each one and looks it up in the
catalog. Matches get a <model>.json sidecar and, with --preview, a <model>.png.`,
	Args: cobra.NoArgs,
	RunE: runSidecars,
}

func init() {
	sidecarsCmd.Flags().StringSliceVarP(&sidecarTypes, "types", "t", models.KnownTypes, "Model types whose folders are scanned")
	sidecarsCmd.Flags().BoolVar(&sidecarOverwrite, "overwrite", false, "Rewrite existing JSON files")
	sidecarsCmd.Flags().BoolVar(&sidecarPreview, "preview", false, "Download a preview image when missing")
	rootCmd.AddCommand(sidecarsCmd)
}

func runSidecars(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	presets, err := newPresetStore().Load()
	if err != nil {
		return err
	}

	var dirs []string
	for _, t := range sidecarTypes {
		key := strings.ToUpper(strings.TrimSpace(t))
		dir, ok := presets[key]
		if !ok {
			return fmt.Errorf("unknown model type %q", t)
		}
		dirs = append(dirs, dir)
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no model types selected")
	}

	client := newAPIClient()
	gen := sidecar.NewGenerator(client, nil, nil)
	if sidecarPreview {
		pool, closePool := openPreviewPool()
		defer closePool()
		gen = sidecar.NewGenerator(client, pool, nil)
	}

	summary, err := gen.Scan(ctx, dirs, sidecar.Options{Overwrite: sidecarOverwrite, Preview: sidecarPreview})
	if err != nil {
		return err
	}
	log.Info("Done processing all models in selected categories.")
	fmt.Fprintf(cmd.OutOrStdout(), "Found %d, wrote %d JSON, %d previews, skipped %d, failed %d\n",
		summary.Found, summary.Written, summary.Previews, summary.Skipped, summary.Failed)
	return nil
}
