package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/paths"
)

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show or change the per-type download folders",
}

var pathsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the folder used for each model type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newPresetStore()
		presets, err := store.Load()
		if err != nil {
			return err
		}
		printPresets(cmd.OutOrStdout(), store.Path(), presets)
		return nil
	},
}

var pathsSetCmd = &cobra.Command{
	Use:   "set TYPE=DIR [TYPE=DIR...]",
	Short: "Change the folder for one or more model types",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := paths.ParseAssignments(args)
		if err != nil {
			return err
		}
		store := newPresetStore()
		presets, err := store.Set(updates)
		if err != nil {
			return err
		}
		printPresets(cmd.OutOrStdout(), store.Path(), presets)
		return nil
	},
}

func init() {
	pathsCmd.AddCommand(pathsShowCmd, pathsSetCmd)
	rootCmd.AddCommand(pathsCmd)
}

func printPresets(w io.Writer, file string, presets map[string]string) {
	fmt.Fprintf(w, "Presets (%s):\n", file)
	for _, t := range models.KnownTypes {
		fmt.Fprintf(w, "  %-12s = %s\n", t, presets[t])
	}
}
