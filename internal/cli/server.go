package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"quiz-engine/internal/app"
	"quiz-engine/internal/codec"
	"quiz-engine/internal/config"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/events"
	"quiz-engine/internal/infra/memory"
	pgstore "quiz-engine/internal/infra/postgres"
	redisstore "quiz-engine/internal/infra/redis"
	"quiz-engine/internal/logger"
	"quiz-engine/internal/metrics"
	"quiz-engine/internal/scoring"
	transport "quiz-engine/internal/transport/http"
)

const defaultSweepSchedule = "@every 1m"

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backend is the assembled service plus what must be swept and closed with it.
type backend struct {
	service *app.QuizService
	metrics *metrics.Metrics
	sweeps  []sweepJob
	closers []func()
}

type sweepJob struct {
	name string
	run  func(ctx context.Context) (int, error)
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	b, err := buildBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	scheduler, err := scheduleSweeps(cfg.Sweep.Schedule, b.sweeps, log)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", b.metrics.Handler())
	mux.HandleFunc("/ws", transport.NewWSHandler(b.service, transport.WSOptions{
		Logger:            log,
		MessagesPerSecond: cfg.Server.MessagesPerSecond,
		Burst:             cfg.Server.MessageBurst,
	}).ServeWS)
	transport.NewAPIHandler(b.service, log).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz engine", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildBackend picks adapters from config: Redis when an address is set,
// Postgres for content and durable results when a URL is set, memory otherwise.
func buildBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (*backend, error) {
	b := &backend{metrics: metrics.New()}

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return nil, err
	}
	if closer, ok := publisher.(*events.AMQPPublisher); ok {
		b.closers = append(b.closers, closer.Close)
	}

	c := codec.New(cfg.Codec.Secret, cfg.Codec.Salt)
	scoringOpts := scoring.DefaultOptions()
	scoringOpts.PartialCredit = config.BoolOr(cfg.Scoring.PartialCredit, true)
	scoringOpts.Bonus.ScaleMaxScore = config.BoolOr(cfg.Scoring.ScaleMaxScore, true)
	if cfg.Scoring.TimeThreshold > 0 {
		scoringOpts.Bonus.TimeThreshold = cfg.Scoring.TimeThreshold
	}
	scoringOpts.Decoder = c
	engine := scoring.NewEngine(scoringOpts)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = redisClient.Close() })
	}

	var pool *pgxpool.Pool
	var db *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		db = pgstore.OpenDB(cfg.Postgres.URL)
		b.closers = append(b.closers, func() { _ = db.Close() })
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	switch {
	case pool != nil:
		loader = pgstore.NewQuizLoader(pool)
	case cfg.Quiz.ContentDir != "":
		loader = memory.NewDirQuizLoader(cfg.Quiz.ContentDir)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	sessionTTL := config.TTLDuration(cfg.Quiz.SessionTTL, 2*time.Hour)
	replayTTL := config.TTLDuration(cfg.Guard.ReplayTTL, app.DefaultReplayTTL)
	rateLimit := cfg.Guard.RateLimit
	if rateLimit <= 0 {
		rateLimit = 30
	}
	rateWindow := config.TTLDuration(cfg.Guard.RateWindow, time.Minute)

	var (
		quizzes  app.QuizRepository
		sessions app.SessionRepository
		limiter  app.RateLimiter
		replays  app.ReplayRegistry
		results  app.ResultStore
		stats    app.StatsAggregator
	)
	if redisClient != nil {
		quizzes = redisstore.NewQuizRepository(redisClient, loader, c, quizTTL)
		sessionStore := redisstore.NewSessionStore(redisClient, sessionTTL)
		sessions = sessionStore
		limiter = redisstore.NewRateLimiter(redisClient, rateLimit, rateWindow)
		replays = redisstore.NewReplayRegistry(redisClient)
		results = redisstore.NewResultStore(redisClient, replayTTL)
		stats = redisstore.NewStatsAggregator(redisClient)
		b.sweeps = append(b.sweeps, sweepJob{name: "sessions", run: sessionStore.Sweep})
	} else {
		quizRepo := memory.NewQuizRepository(loader, quizTTL)
		sessionStore := memory.NewSessionStore(sessionTTL)
		rateLimiter := memory.NewRateLimiter(rateLimit, rateWindow)
		replayRegistry := memory.NewReplayRegistry()
		resultStore := memory.NewResultStore(replayTTL)
		quizzes, sessions, limiter, replays, results = quizRepo, sessionStore, rateLimiter, replayRegistry, resultStore
		stats = memory.NewStatsAggregator()
		b.sweeps = append(b.sweeps,
			memorySweep("quizzes", quizRepo.Sweep),
			memorySweep("sessions", sessionStore.Sweep),
			memorySweep("rate_limits", rateLimiter.Sweep),
			memorySweep("replay_tokens", replayRegistry.Sweep),
			memorySweep("results", resultStore.Sweep),
		)
	}
	if db != nil {
		// Postgres keeps results and aggregates durable across restarts.
		resultStore := pgstore.NewResultStore(db, replayTTL)
		results = resultStore
		stats = pgstore.NewStatsAggregator(db)
		b.sweeps = append(b.sweeps, sweepJob{name: "pg_results", run: func(ctx context.Context) (int, error) {
			n, err := resultStore.Sweep(ctx)
			return int(n), err
		}})
	}

	guard := app.NewGuard(quizzes, limiter, replays, results, stats, engine, app.GuardOptions{
		ReplayTTL:    replayTTL,
		InFlightWait: config.TTLDuration(cfg.Guard.InFlightWait, app.DefaultInFlightWait),
		Logger:       log,
		Metrics:      b.metrics,
	})
	b.service = app.NewQuizService(sessions, quizzes, guard, app.ServiceOptions{
		Engine:       engine,
		Sealer:       c,
		Events:       publisher,
		Metrics:      b.metrics,
		Logger:       log,
		TickInterval: config.TTLDuration(cfg.Server.TickInterval, time.Second),
	})
	return b, nil
}

func newPublisher(cfg config.Config, log *zap.Logger) (events.Publisher, error) {
	if cfg.Events.AMQPURL == "" {
		return events.NewLogPublisher(log), nil
	}
	exchange := cfg.Events.Exchange
	if exchange == "" {
		exchange = "quiz.events"
	}
	return events.NewAMQPPublisher(cfg.Events.AMQPURL, exchange)
}

func memorySweep(name string, fn func(time.Time) int) sweepJob {
	return sweepJob{name: name, run: func(context.Context) (int, error) {
		return fn(time.Now()), nil
	}}
}

// scheduleSweeps registers one cron entry that evicts expired state from every store.
func scheduleSweeps(schedule string, jobs []sweepJob, log *zap.Logger) (*cron.Cron, error) {
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, job := range jobs {
			n, err := job.run(ctx)
			if err != nil {
				log.Warn("sweep failed", zap.String("store", job.name), zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("swept expired entries", zap.String("store", job.name), zap.Int("removed", n))
			}
		}
	})
	return c, err
}

// sampleQuizzes is served when neither Postgres nor a content directory is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionSingle,
					Prompt: "What is 2 + 2?",
					Choices: []domain.Choice{
						{ID: "o1", Label: "3"},
						{ID: "o2", Label: "4", Correct: true},
						{ID: "o3", Label: "5"},
					},
					Points: 1,
				},
				{
					ID:      "q2",
					Type:    domain.QuestionInput,
					Prompt:  "Name the capital of France",
					Pattern: "^paris$",
					Points:  1,
				},
			},
		},
	}
}
