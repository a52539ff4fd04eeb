package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-arcenciel-browser/internal/api"
	"go-arcenciel-browser/internal/config"
	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/paths"
)

// Persistent flag values. Only flags the user actually set are forwarded to
// config.Initialize.
var (
	cfgFile       string
	envFile       string
	logLevel      string
	logFormat     string
	logApiFlag    bool
	apiKeyFlag    string
	pathsFileFlag string
	serveListen   string
	downloadRate  int64
	modelInfoFlag bool
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "arcenciel-browser",
	Short: "Browse the ArcEnCiel catalog and queue model downloads",
	Long: `arcenciel-browser serves the endpoints used by the in-browser ArcEnCiel
panel, runs the serial download queue and offers catalog search, direct
downloads and sidecar generation from the command line.`,
	PersistentPreRunE: loadGlobalConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		api.CloseAllLoggingTransports()
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", config.DefaultConfigFilePath, "Configuration file path")
	pf.StringVar(&envFile, "env-file", config.DefaultEnvFilePath, "Optional .env file with ARCENCIEL_* variables")
	pf.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Logging level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&logFormat, "log-format", config.DefaultLogFormat, "Logging format (text, json)")
	pf.BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	pf.StringVar(&apiKeyFlag, "api-key", "", "ArcEnCiel API key (overrides config)")
	pf.StringVar(&pathsFileFlag, "paths-file", paths.DefaultFileName, "Path presets file")
}

// cliFlags collects the flags that were explicitly set on cmd.
func cliFlags(cmd *cobra.Command) config.CliFlags {
	flags := config.CliFlags{
		ConfigFilePath: &cfgFile,
		EnvFilePath:    &envFile,
	}
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("log-level") {
		flags.LogLevel = &logLevel
	}
	if changed("log-format") {
		flags.LogFormat = &logFormat
	}
	if changed("log-api") {
		flags.LogApiRequests = &logApiFlag
	}
	if changed("api-key") {
		flags.APIKey = &apiKeyFlag
	}
	if changed("paths-file") {
		flags.PathsFile = &pathsFileFlag
	}
	if changed("listen") {
		flags.Serve = &config.CliServeFlags{Listen: &serveListen}
	}
	if changed("max-rate") || changed("model-info") {
		flags.Download = &config.CliDownloadFlags{}
		if changed("max-rate") {
			flags.Download.MaxBytesPerSec = &downloadRate
		}
		if changed("model-info") {
			flags.Download.SaveModelInfo = &modelInfoFlag
		}
	}
	return flags
}

// loadGlobalConfig loads the configuration, applies flag overrides and
// configures logging before any command runs.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	// Apply the flag level early so config loading itself can be traced.
	if lvl, err := log.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}

	cfg, transport, err := config.Initialize(cliFlags(cmd))
	if err != nil {
		return err
	}
	globalConfig = cfg
	globalHttpTransport = transport

	configureLogging(cfg)
	return nil
}

func configureLogging(cfg models.Config) {
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// newAPIClient builds the catalog client on top of the global transport.
func newAPIClient() *api.Client {
	timeout := time.Duration(globalConfig.APIClientTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultAPIClientTimeoutSec * time.Second
	}
	httpClient := &http.Client{Transport: globalHttpTransport, Timeout: timeout}
	return api.NewClient(globalConfig.APIKey, httpClient, globalConfig)
}

// newPresetStore returns the preset store named by the configuration.
func newPresetStore() *paths.Store {
	return paths.NewStore(globalConfig.PathsFile)
}
