package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/booksight/internal/clock"
	"github.com/smallbiznis/booksight/internal/config"
	"github.com/smallbiznis/booksight/internal/ingest"
	"github.com/smallbiznis/booksight/internal/logger"
	"github.com/smallbiznis/booksight/internal/observability/metrics"
	"github.com/smallbiznis/booksight/internal/pipeline"
	"github.com/smallbiznis/booksight/internal/store"
	"github.com/smallbiznis/booksight/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		clock.Module,
		db.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),

		// Pipeline
		ingest.Module,
		store.Module,
		pipeline.Module,

		fx.Invoke(runOnce),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// runOnce triggers a single batch run and shuts the app down when it
// finishes.
func runOnce(lc fx.Lifecycle, coordinator *pipeline.Coordinator, sd fx.Shutdowner, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				result, err := coordinator.Run(context.Background())
				if err != nil {
					log.Error("pipeline run failed", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
					return
				}
				log.Info("metrics published",
					zap.Bool("cached", result.Summary.Cached),
					zap.Int("unique_customers", result.Report.UniqueCustomerCount),
					zap.Int("unique_authors", result.Report.UniqueAuthorCount),
					zap.Int("top_revenue_days", len(result.Report.TopRevenueDays)),
				)
				_ = sd.Shutdown()
			}()
			return nil
		},
	})
}
