package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/broadcast"
	"trivia-live-service/internal/config"
	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
	pgstore "trivia-live-service/internal/infra/postgres"
	redisinfra "trivia-live-service/internal/infra/redis"
	transport "trivia-live-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session server",
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
	}

	var loader app.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.GameStore
	if pool != nil {
		store = pgstore.NewGameStore(pool)
	} else {
		store = memory.NewGameStore()
	}

	var caster broadcast.Broadcaster
	if redisClient != nil {
		caster = redisinfra.NewBroadcaster(redisClient)
	} else {
		caster = memory.NewBroker()
	}

	service := app.NewService(store, quizRepo, caster, gameTimings(cfg))
	wsHandler := transport.NewWSHandler(service)
	hostHandler := transport.NewHostHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	hostHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting trivia live service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func gameTimings(cfg config.Config) app.Timings {
	t := app.DefaultTimings()
	t.Countdown = config.Duration(cfg.Game.Countdown, t.Countdown)
	t.ResultsPause = config.Duration(cfg.Game.ResultsPause, t.ResultsPause)
	t.FastResultsPause = config.Duration(cfg.Game.FastResultsPause, t.FastResultsPause)
	t.AnswerGrace = config.Duration(cfg.Game.AnswerGrace, t.AnswerGrace)
	if cfg.Game.AutoAdvance != nil {
		t.AutoAdvance = *cfg.Game.AutoAdvance
	}
	return t
}

// sampleQuizzes provides a minimal demo quiz; production deployments load
// quiz content from Postgres instead.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:            "q1",
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5"},
					CorrectOption: 1,
					TimeLimit:     20,
				},
				{
					ID:            "q2",
					Text:          "Which planet is known as the Red Planet?",
					Options:       []string{"Venus", "Jupiter", "Mars", "Saturn"},
					CorrectOption: 2,
					TimeLimit:     30,
				},
			},
		},
	}
}
