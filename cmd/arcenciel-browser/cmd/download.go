package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-arcenciel-browser/internal/api"
	"go-arcenciel-browser/internal/downloader"
	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/paths"
	"go-arcenciel-browser/internal/progress"
	"go-arcenciel-browser/internal/sidecar"
)

var (
	downloadSubfolder string
	downloadFileName  string
)

var downloadCmd = &cobra.Command{
	Use:   "download <modelID> [versionID]",
	Short: "Queue one model version and wait for it to finish",
	Long: `Resolves a model version (the latest one when no version id is given),
places its file in the preset folder for the model type and runs it through
the same serial queue the panel uses. Ctrl+C cancels the transfer.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVar(&downloadSubfolder, "subfolder", "", "Subfolder pattern below the preset folder, e.g. {username}/{modelName}")
	downloadCmd.Flags().StringVar(&downloadFileName, "file-name", "", "Override the saved file name")
	downloadCmd.Flags().Int64Var(&downloadRate, "max-rate", 0, "Download bandwidth cap in bytes/sec, 0 for unlimited (overrides config)")
	downloadCmd.Flags().BoolVar(&modelInfoFlag, "model-info", false, "Write a <model>.json sidecar after the download (overrides config)")
	rootCmd.AddCommand(downloadCmd)
}

// pickVersion returns the requested version or the latest one.
func pickVersion(m models.Model, versionID string) (models.ModelVersion, error) {
	if versionID == "" {
		if v := m.LatestVersion(); v != nil {
			return *v, nil
		}
		return models.ModelVersion{}, fmt.Errorf("model %s has no versions", m.ID)
	}
	for _, v := range m.Versions {
		if v.ID.String() == versionID {
			return v, nil
		}
	}
	return models.ModelVersion{}, fmt.Errorf("model %s has no version %s", m.ID, versionID)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newAPIClient()
	modelID := args[0]
	versionID := ""
	if len(args) > 1 {
		versionID = args[1]
	}

	model, err := client.GetModelDetails(ctx, modelID)
	if err != nil {
		return fmt.Errorf("fetching model %s: %w", modelID, err)
	}
	version, err := pickVersion(model, versionID)
	if err != nil {
		return err
	}

	url := client.VersionDownloadURL(model.ID.String(), version)

	fileName := downloadFileName
	if fileName == "" {
		fileName = api.VersionFileName(version)
	}
	if fileName == "" {
		probe := downloader.NewDownloader(&http.Client{}, globalConfig.APIKey, downloader.OptionsFromConfig(globalConfig.Download))
		if fileName, err = probe.ProbeFileName(ctx, url); err != nil {
			log.WithError(err).Warn("Could not determine file name from server")
		}
	}

	subfolder := ""
	if downloadSubfolder != "" {
		if subfolder, err = paths.GeneratePath(downloadSubfolder, paths.PatternData(model, version)); err != nil {
			return err
		}
	}

	modelType := version.ModelType
	if modelType == "" {
		modelType = model.Type
	}
	presets, err := newPresetStore().Load()
	if err != nil {
		log.WithError(err).Warn("Using default path presets")
	}
	dest, err := paths.ResolveDestination(presets, modelType, subfolder, fileName)
	if err != nil {
		return err
	}

	live := progress.NewLive(cmd.OutOrStdout())
	live.Start()
	defer live.Stop()

	var transferErr error
	mgr := newManager(ctx, live, sidecar.NewGenerator(client, nil, nil), func(_ models.DownloadItem, err error) {
		transferErr = err
	})
	item := mgr.Enqueue(models.DownloadItem{
		ModelID:     model.ID.String(),
		VersionID:   version.ID.String(),
		URL:         client.RewriteDownloadURL(url, model.ID.String(), version.ID.String()),
		Destination: dest,
	})
	log.WithField("item", item.ID).Infof("Downloading %s %s to %s", model.Title, version.VersionName, dest)
	mgr.Start()

	go func() {
		<-ctx.Done()
		mgr.CancelAll()
	}()

	// The worker has exited once Wait returns, so transferErr is settled.
	if err := mgr.Wait(context.Background()); err != nil {
		return err
	}
	if errors.Is(transferErr, downloader.ErrCanceled) || ctx.Err() != nil {
		return fmt.Errorf("download of %s cancelled", dest)
	}
	if transferErr != nil {
		return fmt.Errorf("download of %s failed: %w", dest, transferErr)
	}
	return nil
}
