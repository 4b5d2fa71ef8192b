package app

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"regdesk/internal/accesstoken"
	"regdesk/internal/bot"
	"regdesk/internal/conversation"
	convmetrics "regdesk/internal/conversation/metrics"
	convstore "regdesk/internal/conversation/store"
	"regdesk/internal/events"
	"regdesk/internal/moderation"
	modmetrics "regdesk/internal/moderation/metrics"
	"regdesk/internal/notify"
	notifymetrics "regdesk/internal/notify/metrics"
	"regdesk/internal/notify/telegram"
	"regdesk/internal/outbox"
	"regdesk/internal/panel"
	"regdesk/internal/platform/config"
	"regdesk/internal/platform/httpserver"
	"regdesk/internal/platform/metrics"
	"regdesk/internal/platform/redis"
	"regdesk/internal/validation"
	"regdesk/pkg/domain"
)

const webhookPath = "/telegram/webhook/"

// Server is the fully wired long-running process.
type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	stores *Stores
	redis  *redis.Client
	kafka  *kgo.Client

	relay      *outbox.Relay
	tokens     accesstoken.Store
	moderation *moderation.Service
	bot        *bot.Bot
	serveHTTP  func(ctx context.Context) error
}

// NewServer connects every dependency named by cfg. Optional ones (Redis,
// Kafka) fall back to in-process implementations when unconfigured.
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger, version string) (*Server, error) {
	s := &Server{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.stores = stores

	s.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	reg := prometheus.DefaultRegisterer
	httpMetrics := metrics.New(reg, prometheus.DefaultGatherer)

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	api.Debug = cfg.Telegram.Debug
	log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))

	dispatcher := notify.NewDispatcher(telegram.NewSender(api), cfg.Notify.MinInterval,
		notify.WithLogger(log.Named("notify")),
		notify.WithMetrics(notifymetrics.New(reg)),
	)
	s.relay = outbox.NewRelay(stores.Outbox, dispatcher, outbox.Policy{
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		BaseBackoff:  cfg.Outbox.BaseBackoff,
		MaxBackoff:   cfg.Outbox.MaxBackoff,
		PollInterval: cfg.Outbox.PollInterval,
	}, outbox.WithLogger(log.Named("outbox")), outbox.WithRegisterer(reg))

	publisher, err := s.publisher(ctx)
	if err != nil {
		return nil, err
	}

	s.moderation = moderation.New(stores.Registrations, stores.Admins, s.relay, dispatcher,
		moderation.WithLogger(log.Named("moderation")),
		moderation.WithMetrics(modmetrics.New(reg)),
		moderation.WithTxRunner(stores.Tx),
		moderation.WithPublisher(publisher),
		moderation.WithAllowOverride(cfg.Moderation.AllowOverride),
	)
	if err := s.moderation.EnsureSuperAdmins(ctx, principals(cfg.Admins)); err != nil {
		return nil, fmt.Errorf("bootstrap admins: %w", err)
	}

	var sessions conversation.SessionStore = convstore.NewInMemory()
	if s.redis != nil {
		sessions = convstore.NewRedis(s.redis.Client, cfg.Redis.SessionTTL)
		s.tokens = accesstoken.NewRedis(s.redis.Client, cfg.Panel.TokenTTL)
	} else {
		s.tokens = accesstoken.NewInMemory(cfg.Panel.TokenTTL)
	}
	engine := conversation.New(sessions, stores.Registrations, s.moderation, validation.NewRules(cfg),
		conversation.WithLogger(log.Named("conversation")),
		conversation.WithMetrics(convmetrics.New(reg)),
	)

	s.bot = bot.New(api, engine, s.moderation,
		bot.WithLogger(log.Named("bot")),
		bot.WithPanel(s.tokens, cfg.PanelBaseURL()),
		bot.WithPollTimeout(cfg.Bot.PollTimeout),
	)
	webhookURL := ""
	if cfg.Bot.Mode == config.BotModeWebhook {
		webhookURL = cfg.PanelBaseURL() + webhookPath + cfg.Bot.WebhookSecret
	}
	if err := s.bot.RegisterWebhook(webhookURL); err != nil {
		return nil, err
	}

	checks := map[string]panel.HealthCheck{"database": stores.Ping}
	if s.redis != nil {
		checks["redis"] = s.redis.Health
	}
	routerCfg := panel.RouterConfig{
		Panel:   panel.NewHandler(s.moderation, s.tokens, log.Named("panel")),
		Metrics: httpMetrics,
		Logger:  log.Named("http"),
		Checks:  checks,
		Version: version,
	}
	if cfg.Bot.Mode == config.BotModeWebhook {
		routerCfg.Webhook = s.bot.WebhookHandler()
		routerCfg.WebhookSecret = cfg.Bot.WebhookSecret
	}
	srv := httpserver.New(cfg.HTTP.Addr, panel.NewRouter(routerCfg))
	s.serveHTTP = func(ctx context.Context) error {
		return httpserver.Run(ctx, srv, cfg.HTTP.ShutdownTimeout, log)
	}

	ok = true
	return s, nil
}

func (s *Server) publisher(ctx context.Context) (events.Publisher, error) {
	if len(s.cfg.Kafka.Brokers) == 0 {
		s.log.Info("kafka not configured; lifecycle events disabled")
		return events.Nop{}, nil
	}
	client, err := events.Connect(ctx, s.cfg.Kafka, s.log)
	if err != nil {
		return nil, err
	}
	s.kafka = client
	return events.NewKafka(client, s.cfg.Kafka.Topic, events.WithLogger(s.log.Named("events"))), nil
}

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.relay.Run(ctx) })
	g.Go(func() error {
		return accesstoken.RunSweeper(ctx, s.tokens, s.cfg.Panel.SweepInterval, s.log.Named("accesstoken"))
	})
	g.Go(func() error { return s.bot.Run(ctx, s.cfg.Bot.Mode == config.BotModePolling) })
	g.Go(func() error { return s.serveHTTP(ctx) })

	s.log.Info("regdesk started", zap.String("bot_mode", s.cfg.Bot.Mode), zap.String("addr", s.cfg.HTTP.Addr))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases connections. Safe on a partially built server.
func (s *Server) Close() {
	if s.kafka != nil {
		s.kafka.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("redis close failed", zap.Error(err))
		}
	}
	if s.stores != nil {
		if err := s.stores.Close(); err != nil {
			s.log.Warn("database close failed", zap.Error(err))
		}
	}
}

func principals(ids []int64) []domain.PrincipalID {
	out := make([]domain.PrincipalID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.PrincipalID(id))
	}
	return out
}
