package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/megfs/meg/internal/app"
	"github.com/megfs/meg/internal/config"
	"github.com/megfs/meg/internal/logger"
)

var serveFlags struct {
	region        string
	accessKey     string
	secretKey     string
	bucket        string
	host          string
	port          int
	apiKey        string
	cacheBackend  string
	forceDownload bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MEG server",
	RunE:  runServe,
}

func init() {
	for _, flags := range []*cobra.Command{serveCmd, rootCmd} {
		fs := flags.Flags()
		fs.StringVar(&serveFlags.region, "region", "", "S3 region")
		fs.StringVar(&serveFlags.accessKey, "access-key", "", "S3 access key")
		fs.StringVar(&serveFlags.secretKey, "secret-key", "", "S3 secret key")
		fs.StringVar(&serveFlags.bucket, "bucket", "", "S3 bucket (overrides the bucket in S3_URL)")
		fs.StringVar(&serveFlags.host, "host", "", "listen host")
		fs.IntVar(&serveFlags.port, "port", 0, "listen port")
		fs.StringVar(&serveFlags.apiKey, "api-key", "", "require this API key on archive requests")
		fs.StringVar(&serveFlags.cacheBackend, "cache", "", "cache backend (in-memory|redis:<url>)")
		fs.BoolVar(&serveFlags.forceDownload, "force-download", false, "serve entries as attachments")
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg, err = config.FromEnv()
		if err != nil {
			return fmt.Errorf("loading config from environment: %w", err)
		}
	}

	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	a, err := app.New(cfg, log, app.Options{})
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}

	bucket, _ := cfg.ResolveBucket()
	log.Info("starting MEG server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("bucket", bucket),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}

// applyFlags overlays explicitly set flags on the loaded config. Flags
// win over both file and environment values.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("region") {
		cfg.S3.Region = serveFlags.region
	}
	if set("access-key") {
		cfg.S3.AccessKey = serveFlags.accessKey
	}
	if set("secret-key") {
		cfg.S3.SecretKey = serveFlags.secretKey
	}
	if set("bucket") {
		cfg.S3.Bucket = serveFlags.bucket
	}
	if set("host") {
		cfg.Server.Host = serveFlags.host
	}
	if set("port") {
		cfg.Server.Port = serveFlags.port
	}
	if set("api-key") {
		cfg.Server.APIKey = serveFlags.apiKey
	}
	if set("cache") {
		cfg.Cache.Backend = serveFlags.cacheBackend
	}
	if set("force-download") {
		cfg.Server.ForceDownload = serveFlags.forceDownload
	}
}
