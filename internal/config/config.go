package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"go-arcenciel-browser/internal/api"
	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/paths"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultConfigFilePath      = "config.toml"
	DefaultEnvFilePath         = ".env"
	DefaultEnvPrefix           = "ARCENCIEL"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultLogApiRequests      = false
	DefaultAPIClientTimeoutSec = 20
	DefaultAPILogFile          = "api.log"

	DefaultServerListen = "127.0.0.1:7865"

	// Download queue defaults
	DefaultDownloadTimeoutSec      = 60
	DefaultDownloadStallTimeoutSec = 60
	DefaultDownloadChunkSizeKB     = 32
	DefaultDownloadIdleWaitMs      = 200
	DefaultDownloadMaxBytesPerSec  = 0
	DefaultDownloadSaveModelInfo   = false

	// Preview pool defaults
	DefaultPreviewCacheDir    = ".cache/previews"
	DefaultPreviewConcurrency = 6
	DefaultPreviewTimeoutSec  = 20
)

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("apikey", "")
	v.SetDefault("baseurl", api.DefaultBaseURL)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("pathsfile", paths.DefaultFileName)

	v.SetDefault("server.listen", DefaultServerListen)

	v.SetDefault("download.timeoutsec", DefaultDownloadTimeoutSec)
	v.SetDefault("download.stalltimeoutsec", DefaultDownloadStallTimeoutSec)
	v.SetDefault("download.chunksizekb", DefaultDownloadChunkSizeKB)
	v.SetDefault("download.idlewaitms", DefaultDownloadIdleWaitMs)
	v.SetDefault("download.maxbytespersec", DefaultDownloadMaxBytesPerSec)
	v.SetDefault("download.savemodelinfo", DefaultDownloadSaveModelInfo)

	v.SetDefault("preview.cachedir", DefaultPreviewCacheDir)
	v.SetDefault("preview.concurrency", DefaultPreviewConcurrency)
	v.SetDefault("preview.timeoutsec", DefaultPreviewTimeoutSec)
}

// Defaults returns a Config populated with every default value.
func Defaults() models.Config {
	return models.Config{
		BaseURL:             api.DefaultBaseURL,
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
		LogApiRequests:      DefaultLogApiRequests,
		APIClientTimeoutSec: DefaultAPIClientTimeoutSec,
		PathsFile:           paths.DefaultFileName,
		Server: models.ServerConfig{
			Listen: DefaultServerListen,
		},
		Download: models.DownloadConfig{
			TimeoutSec:      DefaultDownloadTimeoutSec,
			StallTimeoutSec: DefaultDownloadStallTimeoutSec,
			ChunkSizeKB:     DefaultDownloadChunkSizeKB,
			IdleWaitMs:      DefaultDownloadIdleWaitMs,
			MaxBytesPerSec:  DefaultDownloadMaxBytesPerSec,
			SaveModelInfo:   DefaultDownloadSaveModelInfo,
		},
		Preview: models.PreviewConfig{
			CacheDir:    DefaultPreviewCacheDir,
			Concurrency: DefaultPreviewConcurrency,
			TimeoutSec:  DefaultPreviewTimeoutSec,
		},
	}
}

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	// Global/Persistent Flags
	ConfigFilePath *string
	EnvFilePath    *string
	LogLevel       *string // --log-level
	LogFormat      *string // --log-format
	LogApiRequests *bool   // --log-api
	APIKey         *string // --api-key
	PathsFile      *string // --paths-file

	// Command-specific flags nested
	Serve    *CliServeFlags
	Download *CliDownloadFlags
}

type CliServeFlags struct {
	Listen *string // --listen
}

type CliDownloadFlags struct {
	MaxBytesPerSec *int64 // --max-rate
	SaveModelInfo  *bool  // --model-info
}

// Initialize loads .env, the TOML config file, ARCENCIEL_* environment
// variables and finally CLI flags, in increasing order of precedence. It
// also builds the HTTP transport used by the catalog client.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	envFile := DefaultEnvFilePath
	if flags.EnvFilePath != nil {
		envFile = *flags.EnvFilePath
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("[Initialize] No env file at %s", envFile)
		} else {
			log.Warnf("[Initialize] Error loading env file '%s': %v", envFile, err)
		}
	}

	finalCfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigType("toml")

	setViperDefaults(v)

	actualConfigFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil && *flags.ConfigFilePath != "" {
		actualConfigFilePath = *flags.ConfigFilePath
		log.Debugf("[Initialize] Using config file path from CLI flag: %s", actualConfigFilePath)
	}
	v.SetConfigFile(actualConfigFilePath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			log.Infof("[Initialize] Config file '%s' not found. Using defaults and CLI flags only.", actualConfigFilePath)
		} else {
			log.Warnf("[Initialize] Error reading config file '%s': %v. Using defaults and CLI flags only.", actualConfigFilePath, err)
		}
	} else {
		log.Infof("[Initialize] Successfully read config file: %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&finalCfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	applyFlags(&finalCfg, flags)

	if err := Validate(finalCfg); err != nil {
		return models.Config{}, nil, err
	}

	var transport http.RoundTripper = http.DefaultTransport
	if finalCfg.LogApiRequests {
		log.Infof("API logging to file: %s", DefaultAPILogFile)
		loggingTransport, err := api.NewLoggingTransport(transport, DefaultAPILogFile)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			transport = loggingTransport
		}
	}

	log.Debug("Configuration initialized successfully.")
	return finalCfg, transport, nil
}

func applyFlags(cfg *models.Config, flags CliFlags) {
	if flags.APIKey != nil {
		log.Debug("[Initialize] Overriding APIKey from flag.")
		cfg.APIKey = *flags.APIKey
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}
	if flags.LogApiRequests != nil {
		cfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.PathsFile != nil {
		cfg.PathsFile = *flags.PathsFile
	}
	if flags.Serve != nil && flags.Serve.Listen != nil {
		log.Debugf("[Initialize] CLI Override: Server.Listen = '%s'", *flags.Serve.Listen)
		cfg.Server.Listen = *flags.Serve.Listen
	}
	if flags.Download != nil {
		if flags.Download.MaxBytesPerSec != nil {
			cfg.Download.MaxBytesPerSec = *flags.Download.MaxBytesPerSec
		}
		if flags.Download.SaveModelInfo != nil {
			cfg.Download.SaveModelInfo = *flags.Download.SaveModelInfo
		}
	}
}

// Validate rejects settings the queue and pool cannot run with.
func Validate(cfg models.Config) error {
	var problems []string
	if cfg.Download.ChunkSizeKB <= 0 {
		problems = append(problems, "Download.ChunkSizeKB must be positive")
	}
	if cfg.Download.TimeoutSec < 0 || cfg.Download.StallTimeoutSec < 0 {
		problems = append(problems, "Download timeouts cannot be negative")
	}
	if cfg.Download.MaxBytesPerSec < 0 {
		problems = append(problems, "Download.MaxBytesPerSec cannot be negative")
	}
	if cfg.Preview.Concurrency < 0 {
		problems = append(problems, "Preview.Concurrency cannot be negative")
	}
	if cfg.PathsFile == "" {
		problems = append(problems, "PathsFile cannot be empty")
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("LogFormat %q must be text or json", cfg.LogFormat))
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("LogLevel %q is not a valid level", cfg.LogLevel))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
