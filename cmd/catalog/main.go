package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-screening/internal/catalogfile"
	"github.com/stemsi/exstem-screening/internal/config"
	"github.com/stemsi/exstem-screening/internal/database"
	"github.com/stemsi/exstem-screening/internal/logger"
	"github.com/stemsi/exstem-screening/internal/model"
	"github.com/stemsi/exstem-screening/internal/repository"
	"github.com/stemsi/exstem-screening/internal/service"
)

// env bundles the connections every subcommand needs.
type env struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	repo     *repository.AssessmentRepository
	catalogs *service.CatalogService
	log      zerolog.Logger
}

func connect(ctx context.Context) (*env, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	repo := repository.NewAssessmentRepository(pool)
	e := &env{
		pool:     pool,
		rdb:      rdb,
		repo:     repo,
		catalogs: service.NewCatalogService(repo, rdb, log),
		log:      log,
	}
	return e, func() {
		rdb.Close()
		pool.Close()
	}, nil
}

// withEnv adapts a subcommand body that needs live connections.
func withEnv(fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, closeFn, err := connect(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(ctx, e, args)
	}
}

func main() {
	var publish bool

	loadCmd := &cobra.Command{
		Use:   "load <file.yaml>",
		Short: "Create an assessment from a YAML catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			c, err := catalogfile.Parse(f)
			if err != nil {
				return err
			}

			status := model.AssessmentStatusDraft
			if publish {
				status = model.AssessmentStatusPublished
			}
			if err := e.repo.CreateCatalog(ctx, c, status); err != nil {
				return fmt.Errorf("create catalog: %w", err)
			}
			if publish {
				if err := e.catalogs.WarmCatalog(ctx, c.AssessmentID); err != nil {
					e.log.Warn().Err(err).Msg("Cache warm failed; the server loads it on first use")
				}
			}

			e.log.Info().
				Str("assessment_id", c.AssessmentID.String()).
				Str("status", string(status)).
				Int("questions", c.QuestionCount()).
				Msg("Catalog loaded")
			fmt.Println(c.AssessmentID)
			return nil
		}),
	}
	loadCmd.Flags().BoolVar(&publish, "publish", false, "publish the assessment immediately")

	setStatus := func(status model.AssessmentStatus) func(ctx context.Context, e *env, args []string) error {
		return func(ctx context.Context, e *env, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid assessment id: %w", err)
			}
			if err := e.repo.UpdateStatus(ctx, id, status); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
			// Warming evicts unpublished assessments.
			if err := e.catalogs.WarmCatalog(ctx, id); err != nil {
				return fmt.Errorf("refresh cache: %w", err)
			}
			e.log.Info().Str("assessment_id", id.String()).Str("status", string(status)).Msg("Status updated")
			return nil
		}
	}

	publishCmd := &cobra.Command{
		Use:   "publish <assessment-id>",
		Short: "Publish an assessment and warm its cache",
		Args:  cobra.ExactArgs(1),
		RunE:  withEnv(setStatus(model.AssessmentStatusPublished)),
	}
	unpublishCmd := &cobra.Command{
		Use:   "unpublish <assessment-id>",
		Short: "Return an assessment to draft and evict it from the cache",
		Args:  cobra.ExactArgs(1),
		RunE:  withEnv(setStatus(model.AssessmentStatusDraft)),
	}
	warmCmd := &cobra.Command{
		Use:   "warm",
		Short: "Reload every published catalog into Redis",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			return e.catalogs.PrewarmAll(ctx)
		}),
	}

	root := &cobra.Command{
		Use:           "catalog",
		Short:         "Manage screening assessment catalogs",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(loadCmd, publishCmd, unpublishCmd, warmCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
