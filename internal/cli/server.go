package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/auth"
	"trivia-room-service/internal/config"
	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/infra/memory"
	pgloader "trivia-room-service/internal/infra/postgres"
	redisinfra "trivia-room-service/internal/infra/redis"
	transport "trivia-room-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	clock := clockwork.NewRealClock()
	serveCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = pgloader.NewQuestionLoader(pool)
	}

	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
	}

	var ledger app.DayLedger
	if redisClient != nil {
		ledger = redisinfra.NewLedger(redisClient, clock)
	} else {
		memLedger := memory.NewLedger(clock)
		memLedger.StartSweeper(serveCtx, config.Duration(cfg.Ledger.SweepInterval, time.Hour))
		ledger = memLedger
	}

	settings := gameSettings(cfg)
	factory := func(roomID string) *app.Session {
		return app.NewSession(roomID, app.SessionDeps{
			Settings:  settings,
			Questions: questions,
			Ledger:    ledger,
			Clock:     clock,
		})
	}
	registry := memory.NewSessionRegistry(factory, config.Duration(cfg.Session.IdleTimeout, time.Hour), clock)
	registry.StartReaper(serveCtx)

	service := app.NewRoomService(registry, ledger)

	var verifier auth.Verifier = auth.InsecureVerifier{}
	if cfg.Auth.UserInfoURL != "" {
		verifier = auth.NewHTTPVerifier(cfg.Auth.UserInfoURL)
	} else {
		log.Warn().Msg("no auth.userInfoURL configured, accepting credentials unverified")
	}

	wsHandler := transport.NewWSHandler(service, verifier)
	leaderboard := transport.NewLeaderboardHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	leaderboard.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting trivia room service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func gameSettings(cfg config.Config) app.Settings {
	settings := app.DefaultSettings()
	settings.TimeBudget = config.Duration(cfg.Game.TimeBudget, settings.TimeBudget)
	if cfg.Game.MaxPoints > 0 {
		settings.MaxPoints = cfg.Game.MaxPoints
	}
	if cfg.Game.Exponent > 0 {
		settings.Exponent = cfg.Game.Exponent
	}
	return settings
}

// sampleQuestions provides a minimal pool; swap the loader for the
// Postgres-backed one in production.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:          "q1",
			Kind:        domain.KindChoice,
			Prompt:      "Which planet is known as the Red Planet?",
			Options:     []string{"Venus", "Mars", "Jupiter", "Mercury"},
			AnswerIndex: 1,
		},
		{
			ID:          "q2",
			Kind:        domain.KindChoice,
			Prompt:      "What is the largest ocean on Earth?",
			Options:     []string{"Atlantic", "Indian", "Pacific", "Arctic"},
			AnswerIndex: 2,
		},
		{
			ID:       "q3",
			Kind:     domain.KindName,
			Prompt:   "Name the landmark in this picture",
			Expected: "Eiffel Tower",
			ImageURL: "https://example.com/landmarks/eiffel.jpg",
		},
	}
}
