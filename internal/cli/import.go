package cli

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-engine/internal/config"
	"quiz-engine/internal/events"
	"quiz-engine/internal/infra/memory"
	pgstore "quiz-engine/internal/infra/postgres"
	"quiz-engine/internal/logger"
)

// NewImportCmd loads every quiz file of a content directory into Postgres.
func NewImportCmd(configPath *string) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import quiz content files into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Quiz.ContentDir
			}
			if dir == "" {
				return fmt.Errorf("content directory not configured")
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			log, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			store := pgstore.NewQuizLoader(pool)

			publisher, err := newPublisher(cfg, log)
			if err != nil {
				return err
			}
			if closer, ok := publisher.(*events.AMQPPublisher); ok {
				defer closer.Close()
			}

			loader := memory.NewDirQuizLoader(dir)
			ids, err := loader.List()
			if err != nil {
				return err
			}
			for _, id := range ids {
				quiz, err := loader.LoadQuiz(ctx, id)
				if err != nil {
					return fmt.Errorf("load %s: %w", id, err)
				}
				if err := store.SaveQuiz(ctx, quiz); err != nil {
					return fmt.Errorf("save %s: %w", id, err)
				}
				_ = publisher.Publish(ctx, events.Event{
					Type:       events.QuizAdminSave,
					QuizID:     quiz.ID,
					Attributes: map[string]any{"version": quiz.Version, "questions": len(quiz.Questions)},
					At:         time.Now(),
				})
				log.Info("quiz imported", zap.String("quiz_id", quiz.ID), zap.Int("version", quiz.Version))
			}
			log.Info("import finished", zap.Int("count", len(ids)))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "content directory (defaults to quiz.contentDir)")
	return cmd
}
