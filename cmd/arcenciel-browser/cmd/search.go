package cmd

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-arcenciel-browser/internal/helpers"
	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/preview"
)

var (
	searchSort      string
	searchBaseModel string
	searchType      string
	searchPage      int
	searchLimit     int
	searchPreviews  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the ArcEnCiel catalog",
	Long: `Runs one catalog search and prints a line per model. With --previews the
thumbnails are fetched concurrently and reported as each one completes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchSort, "sort", "s", "newest", "Sort order")
	searchCmd.Flags().StringVarP(&searchBaseModel, "base-model", "b", "", "Filter by base model")
	searchCmd.Flags().StringVarP(&searchType, "type", "t", "", "Filter by model type")
	searchCmd.Flags().IntVarP(&searchPage, "page", "p", 1, "Result page")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 12, "Results per page")
	searchCmd.Flags().BoolVar(&searchPreviews, "previews", false, "Fetch thumbnails through the preview pool")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := newAPIClient()

	params := models.SearchParameters{
		Sort:      searchSort,
		BaseModel: searchBaseModel,
		ModelType: searchType,
		Page:      searchPage,
		Limit:     searchLimit,
	}
	if len(args) > 0 {
		params.Query = args[0]
	}

	resp, err := client.SearchModels(ctx, params)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Page %d/%d (%d models)\n", resp.Page, resp.TotalPages, resp.TotalCount)
	titles := make(map[string]string, len(resp.Data))
	var reqs []preview.Request
	for _, m := range resp.Data {
		id := m.ID.String()
		titles[id] = m.Title
		latest := ""
		if v := m.LatestVersion(); v != nil {
			latest = fmt.Sprintf(" latest=%s (%s)", v.ID, v.BaseModel)
		}
		fmt.Fprintf(out, "[%s] %s | %s | by %s%s\n", id, m.Title, strings.ToUpper(m.Type), m.Uploader.Username, latest)
		reqs = append(reqs, preview.Request{Key: id, URL: client.ThumbnailURL(m.FirstImagePath())})
	}

	if !searchPreviews || len(reqs) == 0 {
		return nil
	}

	pool, closePool := openPreviewPool()
	defer closePool()
	log.Debugf("Fetching %d previews with %d workers", len(reqs), pool.Size())

	for res := range pool.Fetch(ctx, reqs) {
		switch {
		case res.Err != nil:
			fmt.Fprintf(out, "preview [%s] %s: %v\n", res.Key, titles[res.Key], res.Err)
		case res.Cached:
			fmt.Fprintf(out, "preview [%s] %s: %s (cached) %s\n", res.Key, titles[res.Key], helpers.BytesToSize(uint64(len(res.Data))), res.Path)
		default:
			fmt.Fprintf(out, "preview [%s] %s: %s %s\n", res.Key, titles[res.Key], helpers.BytesToSize(uint64(len(res.Data))), res.Path)
		}
	}
	return nil
}
