package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/emberhq/emberwatch/internal/alerting"
	"github.com/emberhq/emberwatch/internal/api"
	"github.com/emberhq/emberwatch/internal/ingest"
	"github.com/emberhq/emberwatch/internal/logging"
	"github.com/emberhq/emberwatch/internal/models"
	"github.com/emberhq/emberwatch/internal/notifier"
	"github.com/emberhq/emberwatch/internal/pipeline"
	"github.com/emberhq/emberwatch/internal/storage"
	"github.com/emberhq/emberwatch/pkg/config"
)

var (
	configFile string
	httpAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "emberwatch-server",
	Short: "Emberwatch - error event ingestion and alerting backend",
	Long: `Emberwatch receives error events from SDKs, aggregates them into
issues and fires alert rules through Slack, webhook and email channels.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("emberwatch-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}

	log, err := logging.New(cfg.Environment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// Secrets come from the environment, never the config file.
	legacySecret := os.Getenv("EMBERWATCH_HMAC_SECRET")

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Info("database initialized", zap.String("path", cfg.Database.Path))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seedDefaultProject(ctx, store, log); err != nil {
		return fmt.Errorf("seed default project: %w", err)
	}

	defaultChannels, err := buildDefaultChannels(cfg.Alerting.DefaultChannels, log)
	if err != nil {
		return fmt.Errorf("alerting default channels: %w", err)
	}

	var mail notifier.MailTransport
	var mailFrom string
	if cfg.SMTP.Enabled {
		transport, err := notifier.NewSMTPTransport(notifier.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: os.Getenv("EMBERWATCH_SMTP_PASSWORD"),
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return fmt.Errorf("smtp transport: %w", err)
		}
		mail = transport
		mailFrom = cfg.SMTP.From
	}

	dispatcher := notifier.NewDispatcher(mail, mailFrom, log.Named("notifier"))

	// Intake plumbing: ingest handler -> events -> worker -> notices ->
	// alert engine.
	events := make(chan *models.ProcessedEvent, cfg.Ingest.ChannelCapacity)
	notices := make(chan pipeline.EventNotice, cfg.Pipeline.NoticeCapacity)

	agg := pipeline.NewAggregator(cfg.Pipeline.CacheCapacity,
		time.Duration(cfg.Pipeline.CacheTTLSecs)*time.Second)
	worker := pipeline.NewWorker(events, notices, store.Events(), agg,
		pipeline.WorkerConfig{
			FlushBatchSize: cfg.Pipeline.FlushBatchSize,
			FlushInterval:  time.Duration(cfg.Pipeline.FlushIntervalSecs) * time.Second,
		}, log.Named("pipeline"))

	engine := alerting.NewEngine(store.AlertRules(), store.Cooldowns(), dispatcher,
		alerting.Config{
			DefaultCooldownSecs: cfg.Alerting.DefaultCooldownSecs,
			DefaultChannels:     defaultChannels,
		}, log.Named("alerting"))

	if cfg.Alerting.RulesFile != "" {
		rules, err := alerting.LoadRulesFile(cfg.Alerting.RulesFile, log)
		if err != nil {
			return fmt.Errorf("load rules file: %w", err)
		}
		engine.SetFileRules(rules)
	}

	retention := storage.NewRetentionManager(store.Retention(), storage.RetentionConfig{
		DefaultRawEventsDays: cfg.Retention.RawEventsDays,
		DefaultHourlyDays:    cfg.Retention.HourlyDays,
		Interval:             time.Duration(cfg.Retention.IntervalSecs) * time.Second,
		VacuumThreshold:      cfg.Retention.VacuumThreshold,
	}, log.Named("retention"))

	keys := ingest.NewKeyResolver(store.Projects(), cfg.Auth.KeyCacheSize,
		time.Duration(cfg.Auth.KeyCacheTTLSecs)*time.Second)
	auth := ingest.NewAuthenticator(keys, ingest.AuthConfig{
		LegacySecret: legacySecret,
		MaxBody:      cfg.Ingest.MaxPayloadBytes,
	}, log.Named("ingest"))
	limiter := ingest.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	handler := ingest.NewHandler(events, ingest.Limits{
		MaxMessageBytes:  cfg.Ingest.MaxMessageBytes,
		MaxStackBytes:    cfg.Ingest.MaxStackBytes,
		MaxMetadataBytes: cfg.Ingest.MaxMetadataBytes,
		MaxBatchSize:     cfg.Ingest.MaxBatchSize,
	}, log.Named("ingest"))

	router := api.NewRouter(api.IngestHandlers{
		Auth:      auth.Middleware,
		RateLimit: limiter.Middleware,
		Event:     handler.HandleEvent,
		Batch:     handler.HandleBatch,
	}, store.DB(), log.Named("api"))

	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(worker.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(engine.Run(ctx, notices)) })
	g.Go(func() error { return ignoreCanceled(retention.Run(ctx)) })

	if cfg.Alerting.RulesFile != "" {
		rulesFile := cfg.Alerting.RulesFile
		g.Go(func() error {
			return ignoreCanceled(alerting.WatchRulesFile(ctx, rulesFile, engine, log.Named("alerting")))
		})
	}

	g.Go(func() error {
		log.Info("http server listening",
			zap.String("address", cfg.Server.HTTPAddress),
			zap.String("version", config.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// ignoreCanceled treats context cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// seedDefaultProject creates the default tenant with a fresh API key on
// first run, so single-tenant installs work out of the box. The key is
// stored only; read it from the projects table.
func seedDefaultProject(ctx context.Context, store storage.Storage, log *zap.Logger) error {
	count, err := store.Projects().Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	project := &models.Project{
		ID:        models.DefaultProjectID,
		Name:      "default",
		APIKey:    uuid.New().String(),
		CreatedAt: time.Now(),
	}
	if err := store.Projects().Create(ctx, project); err != nil {
		return err
	}
	log.Info("seeded default project", zap.String("project_id", project.ID))
	return nil
}

// buildDefaultChannels validates and converts the configured fallback
// channels.
func buildDefaultChannels(channels []ChannelConfig, log *zap.Logger) ([]models.ChannelConfig, error) {
	var out []models.ChannelConfig
	for i, ch := range channels {
		switch ch.Type {
		case "slack", "webhook":
			raw := ch.WebhookURL
			if ch.Type == "webhook" {
				raw = ch.URL
			}
			insecure, err := notifier.ValidateWebhookURL(raw)
			if err != nil {
				return nil, fmt.Errorf("default channel %d: %w", i, err)
			}
			if insecure {
				log.Warn("default channel uses plain http", zap.Int("index", i))
			}
			if ch.Type == "slack" {
				out = append(out, models.SlackChannel{WebhookURL: raw})
			} else {
				out = append(out, models.WebhookChannel{URL: raw})
			}
		case "email":
			out = append(out, models.EmailChannel{To: ch.To})
		default:
			return nil, fmt.Errorf("default channel %d: unknown type %q", i, ch.Type)
		}
	}
	return out, nil
}
