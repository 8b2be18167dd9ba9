package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ArticlesPipeline/internal/config"
	"ArticlesPipeline/internal/infrastructure/events"
	"ArticlesPipeline/internal/infrastructure/llm"
	"ArticlesPipeline/internal/infrastructure/ml"
	"ArticlesPipeline/internal/infrastructure/parser"
	"ArticlesPipeline/internal/infrastructure/scheduler"
	"ArticlesPipeline/internal/infrastructure/storage/localcache"
	"ArticlesPipeline/internal/infrastructure/storage/memory"
	"ArticlesPipeline/internal/infrastructure/storage/redisstore"
	"ArticlesPipeline/internal/infrastructure/storage/s3store"
	"ArticlesPipeline/internal/infrastructure/storage/sqlstore"
	"ArticlesPipeline/internal/infrastructure/telegram"
	"ArticlesPipeline/internal/logging"
	"ArticlesPipeline/internal/observability"
	"ArticlesPipeline/internal/ports"
	"ArticlesPipeline/internal/reconcile"
	"ArticlesPipeline/internal/registry"
	"ArticlesPipeline/internal/repository"
	"ArticlesPipeline/internal/scanner"
	"ArticlesPipeline/internal/transport/httpapi"
	"ArticlesPipeline/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	Manager    *usecase.Manager
	Reconciler *reconcile.Reconciler
	pipeline   *usecase.Pipeline
	digest     *usecase.Digest
	scheduler  *usecase.Scheduler
	server     *httpapi.Server
	consumer   *events.Consumer

	closers []io.Closer
}

// New builds every component and loads the registry from both tiers.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	remote, err := a.remoteStore(ctx)
	if err != nil {
		return nil, err
	}
	remote = observability.NewInstrumentedStore(observability.StoreDeps{
		Next:    remote,
		Backend: cfg.Storage.Backend,
		Logger:  baseLogger,
	})

	var local ports.ArticleCache
	if cfg.Storage.Local.Root != "" {
		cache, err := localcache.New(cfg.Storage.Local.Root, baseLogger.With("component", "localcache"))
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("open local cache: %w", err)
		}
		local = cache
	}
	repo := repository.New(remote, local)

	policy, err := reconcile.ParsePolicy(cfg.Reconcile.IncompletePolicy)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.Reconciler = reconcile.New(reconcile.Deps{
		Repo:    repo,
		Logger:  baseLogger,
		Options: reconcile.Options{Tolerance: cfg.Reconcile.Tolerance, Policy: policy},
	})

	reg := registry.New(registry.Deps{Repo: repo, Resolver: a.Reconciler, Logger: baseLogger})
	stats, err := reg.Init(ctx, registry.InitOptions{MaxAge: cfg.Registry.MaxAge()})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("init registry: %w", err)
	}
	baseLogger.Info("registry loaded", "local", stats.Local, "remote", stats.Remote,
		"replaced", stats.Replaced, "verified", stats.Verified, "corrupt", stats.Corrupt, "articles", reg.Len())

	publisher, err := a.eventPublisher()
	if err != nil {
		a.closeAll()
		return nil, err
	}

	a.Manager = usecase.NewManager(usecase.ManagerDeps{
		Registry: reg,
		Repo:     repo,
		Events:   publisher,
		Logger:   baseLogger,
	})

	analyzer, err := a.analyzer()
	if err != nil {
		a.closeAll()
		return nil, err
	}

	scanners := scanner.NewRegistry(
		parser.NewArxivScanner(nil),
		parser.NewFeedScanner(nil, parser.NewReadabilityExtractor(nil), baseLogger.With("component", "scanner.rss")),
	)
	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:   parser.NewStrategySource(scanners, cfg.Sites, baseLogger.With("component", "source")),
		Analyzer: analyzer,
		Manager:  a.Manager,
		Logger:   baseLogger.With("component", "pipeline"),
	})

	notifier, err := a.notifier()
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.digest = usecase.NewDigest(usecase.DigestDeps{
		Manager:  a.Manager,
		Notifier: notifier,
		Limit:    cfg.Notifications.DigestLimit,
		Logger:   baseLogger.With("component", "digest"),
	})

	var driver ports.Scheduler
	if cfg.Scheduler.Enabled {
		cron, err := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location(),
			baseLogger.With("component", "cron"))
		if err != nil {
			a.closeAll()
			return nil, err
		}
		driver = cron
	}
	a.scheduler = usecase.NewScheduler(driver, a.pipeline, a.digest, baseLogger.With("component", "scheduler"))

	if cfg.HTTP.Addr != "" {
		router := httpapi.NewRouter(httpapi.Deps{
			Manager:  a.Manager,
			Pipeline: a.pipeline,
			Digest:   a.digest,
			Repairs:  a.Reconciler.PendingRepairs,
			Logger:   baseLogger,
		})
		a.server = httpapi.NewServer(cfg.HTTP.Addr, router, baseLogger.With("component", "http"))
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.CollectedTopic != "" {
		consumer, err := events.NewConsumer(events.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.CollectedTopic,
			GroupID: cfg.Kafka.GroupID,
		}, a.Manager, baseLogger.With("component", "intake"))
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.consumer = consumer
	}

	return a, nil
}

func (a *Application) remoteStore(ctx context.Context) (ports.DocumentStore, error) {
	storage := a.cfg.Storage
	switch storage.Backend {
	case config.BackendS3:
		return s3store.New(ctx, s3store.Config{
			Bucket:       storage.S3.Bucket,
			Prefix:       storage.S3.Prefix,
			Region:       storage.S3.Region,
			Profile:      storage.S3.Profile,
			Endpoint:     storage.S3.Endpoint,
			UsePathStyle: storage.S3.UsePathStyle,
		})
	case config.BackendSQL:
		store, err := sqlstore.Open(storage.SQL.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	case config.BackendRedis:
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:     storage.Redis.Addr,
			Password: storage.Redis.Password,
			DB:       storage.Redis.DB,
			Prefix:   storage.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	default:
		a.logger.Warn("using in-memory remote tier; data is lost on exit")
		return memory.New(), nil
	}
}

func (a *Application) eventPublisher() (ports.EventPublisher, error) {
	kafka := a.cfg.Kafka
	if len(kafka.Brokers) == 0 || kafka.EventsTopic == "" {
		return nil, nil
	}
	publisher, err := events.NewPublisher(events.ProducerConfig{
		Brokers:  kafka.Brokers,
		Topic:    kafka.EventsTopic,
		ClientID: kafka.ClientID,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, publisher)
	return publisher, nil
}

func (a *Application) analyzer() (ports.Analyzer, error) {
	cfg := a.cfg.ML
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return llm.NewChatGPTAnalyzer(llm.Config{
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			APIKey:       cfg.APIKey,
			SystemPrompt: cfg.SystemPrompt,
			MaxRetries:   2,
		})
	default:
		if cfg.InferenceURL == "" {
			a.logger.Warn("no scoring service configured; articles stay COLLECTED")
			return nil, nil
		}
		return ml.NewClient(cfg.InferenceURL, cfg.APIKey, nil), nil
	}
}

func (a *Application) notifier() (ports.Notifier, error) {
	tg := a.cfg.Notifications.Telegram
	if !tg.Enabled() {
		return nil, nil
	}
	n, err := telegram.Dial(tg.BotToken, tg.ChatID)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// RunOnce ingests today's articles and sends the digest.
func (a *Application) RunOnce(ctx context.Context) {
	a.scheduler.RunOnce(ctx, time.Now().In(a.cfg.Scheduler.Location()))
}

// Run starts the background components and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if a.consumer != nil {
		a.consumer.Start(ctx)
	}
	a.logger.Info("pipeline running", "backend", a.cfg.Storage.Backend, "http", a.cfg.HTTP.Addr)

	<-ctx.Done()
	return a.Shutdown()
}

// Shutdown stops every component and closes stores and producers.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http: %w", err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}
	errs = append(errs, a.closeAll())
	if pending := a.Reconciler.PendingRepairs(); len(pending) > 0 {
		a.logger.Warn("articles awaiting manual repair", "count", len(pending), "ids", pending)
	}
	return errors.Join(errs...)
}

func (a *Application) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
