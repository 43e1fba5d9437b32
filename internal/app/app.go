// Package app assembles a Relay and its operational surface from
// configuration. The long-running command and the scheduled entrypoint share
// this wiring so both deliver identically.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"

	"alertstream/internal/config"
	"alertstream/internal/db"
	"alertstream/internal/dedup"
	"alertstream/internal/external"
	"alertstream/internal/formatter"
	"alertstream/internal/notifications/core"
	"alertstream/internal/notifications/feed"
	"alertstream/internal/notifications/webhook"
	"alertstream/internal/relay"
	"alertstream/internal/server"
	"alertstream/internal/session"
	"alertstream/internal/source"
	"alertstream/internal/transition"
	"alertstream/internal/types"
)

// Overrides replaces collaborators that would otherwise be built from
// configuration. Zero fields are built normally.
type Overrides struct {
	HTTPClient *http.Client
	SQS        core.SQSSender
	CloudWatch core.CloudWatchClient
	Clock      types.Clock
}

// App is a wired relay plus what the HTTP surface needs to observe it.
type App struct {
	Relay    *relay.Relay
	Source   types.AlertSource
	Dedup    *dedup.Store
	Probes   []server.HealthProbe
	Stats    []server.StatSource
	Gatherer prometheus.Gatherer

	cfg     *config.Config
	logger  types.Logger
	closers []func() error
}

// Build wires every component named by cfg. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger types.Logger, ov Overrides) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		return nil, errors.New("app: logger is required")
	}
	if ov.Clock == nil {
		ov.Clock = types.RealClock{}
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, err := a.buildDedup()
	if err != nil {
		return nil, err
	}
	a.Dedup = store
	a.Stats = append(a.Stats, server.StatSource{Name: "archived_hashes", Fn: func(ctx context.Context) (any, error) {
		return store.Len(ctx)
	}})

	src, err := a.buildSource(ctx, ov.Clock)
	if err != nil {
		return nil, err
	}
	a.Source = src

	channels, err := a.buildChannels(ov)
	if err != nil {
		return nil, err
	}

	metrics, publisher, err := a.buildTelemetry(ctx, ov)
	if err != nil {
		return nil, err
	}

	fmtr := formatter.New(formatter.Options{MaxChars: cfg.Message.MaxChars, Tags: cfg.Message.Tags})
	r, err := relay.New(relay.Deps{
		Source:    src,
		Dedup:     store,
		Hash:      dedup.ContentHash,
		Formatter: fmtr,
		Attachments: source.MediaLoader{
			Dir:            cfg.Inbox.MediaDir,
			MaxBytes:       cfg.Message.MaxAttachmentBytes,
			MaxAttachments: cfg.Message.MaxAttachments,
		},
		Channels:  channels,
		Metrics:   metrics,
		Publisher: publisher,
		Clock:     ov.Clock,
		Logger:    logger,
	}, relay.Config{
		Workers:  cfg.Inbox.Workers,
		Interval: cfg.Inbox.CheckInterval(),
		Retry: core.RetryPolicy{
			MaxAttempts:   cfg.Delivery.MaxAttempts,
			BaseDelay:     cfg.Delivery.BackoffBase,
			MaxDelay:      cfg.Delivery.BackoffMax,
			BackoffFactor: cfg.Delivery.BackoffFactor,
		},
		AttemptTimeout: cfg.Delivery.Timeout,
		DefaultChannel: types.ChannelFeed,
	})
	if err != nil {
		return nil, err
	}
	a.Relay = r

	logger.Info("Relay wired",
		"source", src.Type(),
		"channels", len(channels),
		"dedup_index", cfg.Dedup.Index,
		"metrics_backend", cfg.Observability.MetricsBackend,
		"workers", cfg.Inbox.Workers,
		"max_chars", fmtr.MaxChars(),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildDedup() (*dedup.Store, error) {
	opts := dedup.Options{
		ArchiveDir: a.cfg.Dedup.ArchiveDir,
		Compress:   a.cfg.Dedup.Compress,
		Logger:     a.logger,
	}
	if a.cfg.Dedup.Index == "sqlite" {
		idx, err := dedup.OpenSQLiteIndex(a.cfg.Dedup.IndexPath())
		if err != nil {
			return nil, fmt.Errorf("opening dedup index: %w", err)
		}
		opts.Index = idx
		a.Probes = append(a.Probes, server.ProbeFunc{ProbeName: "dedup_index", Fn: idx.Ping})
	}

	store, err := dedup.NewStore(opts)
	if err != nil {
		if opts.Index != nil {
			_ = opts.Index.Close()
		}
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *App) buildSource(ctx context.Context, clock types.Clock) (types.AlertSource, error) {
	switch a.cfg.Inbox.Source {
	case string(types.SourceDatabase):
		pool, err := db.NewPool(ctx, a.cfg.Database.URL.Unmask(), a.cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		if err := db.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
		repo := db.NewMessageRepository(pool)
		src, err := source.NewDatabaseSource(source.DatabaseOptions{
			Store:        repo,
			Pinger:       pool,
			BatchSize:    a.cfg.Database.BatchSize,
			ClaimTimeout: a.cfg.Database.ClaimTimeout,
			Logger:       a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.Probes = append(a.Probes, server.ProbeFunc{ProbeName: "database", Fn: src.Check})
		a.Stats = append(a.Stats, server.StatSource{Name: "messages_by_status", Fn: func(ctx context.Context) (any, error) {
			return repo.CountByStatus(ctx)
		}})
		return src, nil

	default:
		tm, err := transition.NewManager(transition.NewLayout(a.cfg.Inbox.Root), a.logger)
		if err != nil {
			return nil, err
		}
		src, err := source.NewFileSource(source.FileOptions{
			Transitions:  tm,
			Prefix:       a.cfg.Inbox.FilePrefix,
			ClaimTimeout: a.cfg.Inbox.ClaimTimeout,
			Clock:        clock,
			Logger:       a.logger,
		})
		if err != nil {
			return nil, err
		}
		if err := src.Check(ctx); err != nil {
			return nil, fmt.Errorf("inbox root %s is not accessible: %w", a.cfg.Inbox.Root, err)
		}
		a.Probes = append(a.Probes, server.ProbeFunc{ProbeName: "inbox", Fn: src.Check})
		return src, nil
	}
}

func (a *App) buildChannels(ov Overrides) ([]types.NotificationChannel, error) {
	httpClient := ov.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: a.cfg.Feed.Timeout}
	}

	client := external.NewFeedClient(httpClient, external.FeedClientConfig{
		BaseURL:   a.cfg.Feed.PDSURL,
		UserAgent: a.cfg.Feed.UserAgent,
	})
	sessions, err := session.NewManager(client, session.Credentials{
		Identifier: a.cfg.Feed.Handle,
		Password:   a.cfg.Feed.Password,
	}, session.Options{
		DefaultTTL: a.cfg.Session.DefaultTTL,
		MaxRetries: a.cfg.Session.LoginMaxRetries,
		Clock:      ov.Clock,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	delivery := feed.NewDeliveryClient(client, feed.Options{
		MaxAttachmentBytes: a.cfg.Message.MaxAttachmentBytes,
		MaxAttachments:     a.cfg.Message.MaxAttachments,
		Clock:              ov.Clock,
		Logger:             a.logger,
	})
	channels := []types.NotificationChannel{feed.NewChannel(delivery, sessions, a.logger)}

	if a.cfg.Webhook.URL != "" {
		wh, err := webhook.NewChannel(a.cfg.Webhook, a.logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, wh)
	}
	return channels, nil
}

func (a *App) buildTelemetry(ctx context.Context, ov Overrides) (core.RelayMetrics, core.OutcomePublisher, error) {
	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		// AWS_ENDPOINT_URL is honored by the SDK itself for LocalStack.
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.AWS.Region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("loading AWS SDK config: %w", err)
		}
		awsCfg = &cfg
		return cfg, nil
	}

	var metrics core.RelayMetrics = core.NopMetrics{}
	switch a.cfg.Observability.MetricsBackend {
	case "prometheus":
		pm := core.NewPrometheusMetrics()
		a.Gatherer = pm.Registry()
		metrics = pm
	case "cloudwatch":
		cw := ov.CloudWatch
		if cw == nil {
			cfg, err := loadAWS()
			if err != nil {
				return nil, nil, err
			}
			cw = cloudwatch.NewFromConfig(cfg)
		}
		metrics = core.NewCloudWatchMetrics(cw, a.cfg.Observability.MetricNamespace, a.logger)
	}

	var publisher core.OutcomePublisher
	if a.cfg.AWS.OutcomeQueueURL != "" {
		sender := ov.SQS
		if sender == nil {
			cfg, err := loadAWS()
			if err != nil {
				return nil, nil, err
			}
			sender = sqs.NewFromConfig(cfg)
		}
		publisher = core.NewSQSOutcomePublisher(sender, a.cfg.AWS.OutcomeQueueURL, a.logger)
	}
	return metrics, publisher, nil
}
