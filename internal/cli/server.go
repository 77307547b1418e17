package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/bot"
	"noob2root-bot/internal/chat"
	"noob2root-bot/internal/config"
	"noob2root-bot/internal/domain"
	"noob2root-bot/internal/infra/memory"
	"noob2root-bot/internal/infra/openrouter"
	"noob2root-bot/internal/monitoring"
	"noob2root-bot/internal/telemetry"
	transport "noob2root-bot/internal/transport/http"
)

const defaultGameChannel = "quiz-game"

// NewStartCmd builds the CLI subcommand to start the bot.
func NewStartCmd(configPath, port *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bot and its HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
	cmd.Flags().StringVar(port, "port", "", "port to listen on (overrides config)")
	return cmd
}

// engine is everything the bot needs to run sessions.
type engine struct {
	hub         *chat.Hub
	ledger      *app.Ledger
	challenges  *app.ChallengeTracker
	bank        app.QuestionBank
	coordinator *app.Coordinator
	sessions    app.SessionRepository
}

func buildEngine(cfg config.Config, st *stores, logger *zap.Logger, metrics *monitoring.Metrics) *engine {
	hub := chat.NewHub(logger.Named("chat"))
	seedHub(hub, cfg)

	ledger := app.NewLedger(st.docs, hub, st.leaderboard, logger.Named("ledger"))
	challenges := app.NewChallengeTracker(st.docs, ledger, hub, app.ChallengeTrackerConfig{
		AnnounceScope: cfg.Chat.AnnounceChannel,
		ClaimOnce:     cfg.Challenge.ClaimOnce,
		RotateEvery:   config.TTLDuration(cfg.Challenge.RotateEvery, 24*time.Hour),
	}, logger.Named("challenge"), metrics)

	bank := memory.NewCachedBank(app.NewDocumentBank(st.docs), config.TTLDuration(cfg.Quiz.BankTTL, 10*time.Minute))

	var provider app.QuestionProvider
	if cfg.AI.APIKey != "" {
		provider = openrouter.New(openrouter.Config{
			APIKey:            cfg.AI.APIKey,
			BaseURL:           cfg.AI.BaseURL,
			RequestsPerMinute: cfg.AI.RequestsPerMinute,
			Timeout:           config.TTLDuration(cfg.AI.Timeout, 30*time.Second),
		})
	} else {
		logger.Warn("no AI api key configured, only the question bank can serve group duels")
	}
	source := app.NewQuestionSource(provider, bank, logger.Named("questions"),
		app.WithModels(cfg.AI.Models),
		app.WithAttemptBudget(cfg.Quiz.AttemptBudget),
		app.WithSourceMetrics(metrics),
	)

	def := app.DefaultCoordinatorConfig()
	coordinator := app.NewCoordinator(app.CoordinatorDeps{
		Platform: hub,
		Source:   source,
		Scorer:   app.NewScorer(ledger, challenges, cfg.Quiz.Compound(), logger.Named("scoring")),
		Ledger:   ledger,
		Sessions: st.sessions,
		Logger:   logger.Named("session"),
		Metrics:  metrics,
	}, app.CoordinatorConfig{
		AnswerWindow:     config.TTLDuration(cfg.Quiz.AnswerWindow, def.AnswerWindow),
		AcceptanceWindow: config.TTLDuration(cfg.Quiz.AcceptanceWindow, def.AcceptanceWindow),
		RoundPause:       config.TTLDuration(cfg.Quiz.RoundPause, def.RoundPause),
		WinnerBonus:      cfg.Quiz.Bonus(),
	})

	return &engine{
		hub:         hub,
		ledger:      ledger,
		challenges:  challenges,
		bank:        bank,
		coordinator: coordinator,
		sessions:    st.sessions,
	}
}

func gameChannel(cfg config.Config) string {
	if cfg.Chat.GameChannel == "" {
		return defaultGameChannel
	}
	return cfg.Chat.GameChannel
}

func seedHub(hub *chat.Hub, cfg config.Config) {
	hub.AddChannel(gameChannel(cfg), "quiz-game")
	if cfg.Chat.AnnounceChannel != "" {
		hub.AddChannel(cfg.Chat.AnnounceChannel, "announcements")
	}
	_ = hub.EnsureRole(context.Background(), cfg.Chat.ModRoleName())
	for _, m := range cfg.Chat.Members {
		hub.AddMember(domain.Member{ID: m.ID, DisplayName: m.Name, Bot: m.Bot, Roles: m.Roles})
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "noob2root-bot", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.New(registry)

	eng := buildEngine(cfg, st, logger, metrics)
	router := bot.NewRouter(eng.hub, eng.coordinator, eng.ledger, eng.challenges, eng.bank, bot.Config{
		GameChannel: gameChannel(cfg),
		ModRole:     cfg.Chat.ModRoleName(),
	}, logger.Named("router"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", monitoring.Handler(registry))
	transport.NewHandler(eng.hub, eng.sessions, eng.ledger, eng.challenges, logger.Named("http")).Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.challenges.RunScheduler(gctx) })
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error {
		logger.Info("starting bot", zap.String("addr", server.Addr), zap.String("store", st.backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
