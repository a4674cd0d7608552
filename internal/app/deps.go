package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hoodly/hoodlysync/internal/analytics"
	"github.com/hoodly/hoodlysync/internal/chat"
	"github.com/hoodly/hoodlysync/internal/config"
	"github.com/hoodly/hoodlysync/internal/db"
	"github.com/hoodly/hoodlysync/internal/diag"
	"github.com/hoodly/hoodlysync/internal/feed"
	"github.com/hoodly/hoodlysync/internal/gateway"
	"github.com/hoodly/hoodlysync/internal/invite"
	"github.com/hoodly/hoodlysync/internal/media"
	"github.com/hoodly/hoodlysync/internal/models"
	"github.com/hoodly/hoodlysync/internal/realtime"
	"github.com/hoodly/hoodlysync/internal/remote"
)

// errNoDataSource indicates neither the hosted backend nor a direct database
// connection is configured.
var errNoDataSource = errors.New("configure HOODLY_BACKEND_URL and HOODLY_ANON_KEY, or HOODLY_DATABASE_URL")

// dependencies wires together the concrete implementations behind the CLI
// commands. Connectivity-dependent members are nil when unconfigured.
type dependencies struct {
	cfg    config.Config
	logger *slog.Logger

	gateway  *gateway.Client
	session  *gateway.SessionManager
	pool     *pgxpool.Pool
	realtime *realtime.Client

	tracker  *analytics.Tracker
	invites  *invite.Service
	feed     *feed.Service
	chat     *chat.Service
	profiles remote.ProfileStore
	uploader *media.Uploader
	diag     *diag.Runner
}

// identity resolves the acting user: the session when the gateway is in use,
// the configured user id when talking to the database directly.
type identity struct {
	session *gateway.SessionManager
	static  string
}

func (i identity) UserID() string {
	if i.session != nil {
		if id := i.session.UserID(); id != "" {
			return id
		}
	}
	return i.static
}

// logSink delivers analytics events to the structured log when no backend is
// available to receive them.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Deliver(_ context.Context, event models.AnalyticsEvent) error {
	s.logger.Info("analytics event", "event", event.Event, "properties", event.Properties, "userId", event.UserID)
	return nil
}

// buildDependencies assembles the service graph for one CLI invocation. The
// returned cleanup releases connections and drains background workers.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (*dependencies, func(context.Context) error, error) {
	deps := &dependencies{cfg: cfg, logger: logger}

	var (
		invites  remote.InviteStore
		posts    remote.PostStore
		stories  remote.StoryStore
		messages remote.MessageStore
		profiles remote.ProfileStore
	)

	if cfg.HasBackend() {
		client := gateway.NewClient(cfg.BackendURL, cfg.AnonKey, gateway.Options{
			RequestsPerSecond: cfg.RequestRate,
			Burst:             cfg.RequestBurst,
		})

		var tokenStore gateway.TokenStore
		if cfg.SessionFile != "" {
			tokenStore = gateway.NewFileTokenStore(cfg.SessionFile)
		}
		session := gateway.NewSessionManager(client, tokenStore)
		if err := session.Restore(ctx); err != nil {
			logger.Warn("restore session", "error", err)
		}
		client.UseSession(session)

		deps.gateway = client
		deps.session = session
	}

	switch {
	case cfg.HasDirectDatabase():
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		deps.pool = pool

		invites = remote.NewPostgresInviteStore(pool)
		posts = remote.NewPostgresPostStore(pool)
		stories = remote.NewPostgresStoryStore(pool)
		messages = remote.NewPostgresMessageStore(pool)
		profiles = remote.NewPostgresProfileStore(pool)
	case deps.gateway != nil:
		invites = remote.NewRESTInviteStore(deps.gateway)
		posts = remote.NewRESTPostStore(deps.gateway)
		stories = remote.NewRESTStoryStore(deps.gateway)
		messages = remote.NewRESTMessageStore(deps.gateway)
		profiles = remote.NewRESTProfileStore(deps.gateway)
	default:
		return nil, nil, errNoDataSource
	}

	who := identity{session: deps.session, static: cfg.UserID}

	var sink analytics.Sink
	if deps.gateway != nil {
		sink = analytics.NewGatewaySink(deps.gateway)
	} else {
		sink = logSink{logger: logger}
	}
	deps.tracker = analytics.NewTracker(sink, who, logger)

	deps.invites = invite.NewService(invites, who, deps.tracker, cfg.LinkDomain)
	deps.feed = feed.NewService(posts, stories, who, cfg.FeedCacheTTL)
	deps.profiles = profiles

	if cfg.RealtimeURL != "" {
		deps.realtime = realtime.NewClient(cfg.RealtimeURL, cfg.AnonKey, logger)
		deps.chat = chat.NewService(messages, chat.NewRealtimeSubscriber(deps.realtime), who, logger)
	}

	if cfg.ObjectStore.Bucket != "" {
		storage, err := media.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, nil, err
		}
		deps.uploader = media.NewUploader(storage, media.StoreBinder{Posts: posts, Stories: stories}, media.UploaderConfig{Workers: 2}, logger)
	}

	var pinger diag.Pinger
	if deps.pool != nil {
		pinger = deps.pool
	}
	deps.diag = diag.NewRunner(cfg, nil, pinger)

	cleanup := func(shutdownCtx context.Context) error {
		var firstErr error
		if deps.uploader != nil {
			if err := deps.uploader.Shutdown(shutdownCtx); err != nil {
				firstErr = err
			}
		}
		if deps.realtime != nil {
			if err := deps.realtime.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if deps.pool != nil {
			deps.pool.Close()
		}
		return firstErr
	}

	return deps, cleanup, nil
}
