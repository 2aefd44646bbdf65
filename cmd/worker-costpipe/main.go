// Command worker-costpipe runs the Temporal worker for the collection and
// weekly analysis workflows. Supports stub mode (fixtures) and production
// mode (real connectors).
package main

import (
	"context"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/finops-claw-gang/costpipe/internal/app"
	"github.com/finops-claw-gang/costpipe/internal/config"
	"github.com/finops-claw-gang/costpipe/internal/observability"
	"github.com/finops-claw-gang/costpipe/internal/temporal/codecs"
	"github.com/finops-claw-gang/costpipe/internal/temporal/queues"
	"github.com/finops-claw-gang/costpipe/internal/temporal/versioning"
	"github.com/finops-claw-gang/costpipe/internal/temporal/workflows"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := observability.InitLogger(cfg.LogLevel)
	ctx := context.Background()

	if cfg.OTelEnabled {
		shutdown, err := observability.InitTracer(ctx, "worker-costpipe")
		if err != nil {
			log.Fatalf("otel: %v", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	queueNames, err := queues.ParseQueues(cfg.Queues)
	if err != nil {
		log.Fatalf("queues: %v", err)
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	defer a.Deps.Close()

	c, err := client.Dial(client.Options{
		HostPort:      cfg.TemporalAddress,
		Logger:        observability.NewTemporalSlogAdapter(logger),
		DataConverter: codecs.DataConverter(),
	})
	if err != nil {
		log.Fatalf("unable to create Temporal client: %v", err)
	}
	defer c.Close()

	acts := a.Activities()
	configs := queues.DefaultConfigs()
	errCh := make(chan error, len(queueNames))
	interrupt := worker.InterruptCh()
	stops := make([]chan interface{}, 0, len(queueNames))

	for _, name := range queueNames {
		w := worker.New(c, name, configs[name].Options)
		switch name {
		case versioning.QueueCollect:
			w.RegisterWorkflow(workflows.DailyCollectionWorkflow)
			w.RegisterWorkflow(workflows.CollectionBackfillWorkflow)
		case versioning.QueueReport:
			w.RegisterWorkflow(workflows.WeeklyAnalysisWorkflow)
		}
		w.RegisterActivity(acts)

		stop := make(chan interface{})
		stops = append(stops, stop)
		logger.Info("starting worker", "queue", name, "mode", cfg.Mode)
		go func(w worker.Worker) { errCh <- w.Run(stop) }(w)
	}

	running := len(stops)
	var failed error
	select {
	case <-interrupt:
		logger.Info("shutting down workers")
	case failed = <-errCh:
		running--
		logger.Error("worker failed", "error", failed)
	}
	for _, stop := range stops {
		close(stop)
	}
	for ; running > 0; running-- {
		<-errCh
	}
	if failed != nil {
		log.Fatalf("worker failed: %v", failed)
	}
}
