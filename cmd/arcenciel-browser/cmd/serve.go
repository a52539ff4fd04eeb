package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-arcenciel-browser/internal/downloader"
	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/preview"
	"go-arcenciel-browser/internal/progress"
	"go-arcenciel-browser/internal/queue"
	"go-arcenciel-browser/internal/server"
	"go-arcenciel-browser/internal/sidecar"
)

var serveQuiet bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser panel endpoints and run the download queue",
	Long: `Starts the HTTP endpoints used by the in-browser ArcEnCiel panel under
/arcenciel. Downloads posted by the panel are queued and transferred one at
a time; progress is drawn live on the terminal.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to listen on (overrides config)")
	serveCmd.Flags().Int64Var(&downloadRate, "max-rate", 0, "Download bandwidth cap in bytes/sec, 0 for unlimited (overrides config)")
	serveCmd.Flags().BoolVar(&modelInfoFlag, "model-info", false, "Write a <model>.json sidecar after each download (overrides config)")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "Disable the live progress display")
	rootCmd.AddCommand(serveCmd)
}

// newManager wires the downloader, live progress, the optional sidecar hook
// and onDone (may be nil) into a queue manager.
func newManager(ctx context.Context, reporter queue.Reporter, gen *sidecar.Generator, onDone func(models.DownloadItem, error)) *queue.Manager {
	dl := downloader.NewDownloader(&http.Client{Transport: http.DefaultTransport}, globalConfig.APIKey,
		downloader.OptionsFromConfig(globalConfig.Download))

	opts := queue.Options{
		IdleWait: time.Duration(globalConfig.Download.IdleWaitMs) * time.Millisecond,
		Reporter: reporter,
	}
	writeInfo := gen != nil && globalConfig.Download.SaveModelInfo
	if writeInfo || onDone != nil {
		opts.OnComplete = func(item models.DownloadItem, written int64, err error) {
			if writeInfo {
				if serr := gen.ForDownload(ctx, item, err); serr != nil {
					log.WithError(serr).WithField("item", item.ID).Warn("Failed to write model info")
				}
			}
			if onDone != nil {
				onDone(item, err)
			}
		}
	}
	return queue.NewManager(dl, opts)
}

// openPreviewPool opens the thumbnail cache (when configured) and the pool
// on top of it. The returned func releases the cache.
func openPreviewPool() (*preview.Pool, func()) {
	var cache *preview.Cache
	if dir := globalConfig.Preview.CacheDir; dir != "" {
		c, err := preview.OpenCache(dir)
		if err != nil {
			log.WithError(err).Warnf("Thumbnail cache at %s unavailable, continuing without it", dir)
		} else {
			cache = c
		}
	}
	timeout := time.Duration(globalConfig.Preview.TimeoutSec) * time.Second
	pool := preview.NewPool(&http.Client{Transport: http.DefaultTransport, Timeout: timeout}, globalConfig.Preview, cache)
	return pool, func() {
		if cache != nil {
			if err := cache.Close(); err != nil {
				log.WithError(err).Warn("Closing thumbnail cache")
			}
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newAPIClient()
	pool, closePool := openPreviewPool()
	defer closePool()

	var reporter queue.Reporter
	if !serveQuiet {
		live := progress.NewLive(os.Stdout)
		live.Start()
		defer live.Stop()
		reporter = live
	}

	mgr := newManager(ctx, reporter, sidecar.NewGenerator(client, pool, nil), nil)
	srv := server.New(client, mgr, newPresetStore(), pool)

	err := srv.ListenAndServe(ctx, globalConfig.Server.Listen)

	log.Info("Stopping download queue...")
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := mgr.Close(closeCtx); cerr != nil {
		log.WithError(cerr).Warn("Download worker did not stop in time")
	}
	return err
}
