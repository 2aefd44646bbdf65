// Command costpipe triggers and inspects the cost pipeline jobs.
//
// Usage:
//
//	costpipe collect  [--date D] [--subscription S ...] [--direct] [--wait]
//	costpipe analyze  [--week-start D] [--direct] [--wait]
//	costpipe backfill --from D --to D
//	costpipe status   [--workflow-id WID | --job collect|weekly]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/finops-claw-gang/costpipe/internal/app"
	"github.com/finops-claw-gang/costpipe/internal/config"
	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/observability"
	"github.com/finops-claw-gang/costpipe/internal/temporal/codecs"
	"github.com/finops-claw-gang/costpipe/internal/temporal/querier"
	"github.com/finops-claw-gang/costpipe/internal/temporal/versioning"
	"github.com/finops-claw-gang/costpipe/internal/temporal/workflows"
)

var version = "dev"

func main() {
	a := &cli.App{
		Name:    "costpipe",
		Usage:   "Daily cost collection and weekly cost reports",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "direct",
				Usage: "Run the job in this process instead of starting a workflow",
			},
			&cli.StringFlag{
				Name:    "temporal-address",
				Value:   "localhost:7233",
				Usage:   "Temporal frontend host:port",
				EnvVars: []string{"TEMPORAL_ADDRESS"},
			},
		},
		Commands: []*cli.Command{
			collectCommand(),
			analyzeCommand(),
			backfillCommand(),
			statusCommand(),
		},
	}
	if err := a.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func collectCommand() *cli.Command {
	return &cli.Command{
		Name:  "collect",
		Usage: "Collect the day before --date for every subscription",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "Run date (YYYY-MM-DD); defaults to today in UTC"},
			&cli.StringSliceFlag{Name: "subscription", Aliases: []string{"s"}, Usage: "Override the configured subscriptions"},
			&cli.BoolFlag{Name: "wait", Usage: "Wait for the workflow result"},
		},
		Action: runCollect,
	}
}

func runCollect(c *cli.Context) error {
	runDate, err := dateFlag(c.String("date"), time.Now().UTC())
	if err != nil {
		return err
	}
	date := runDate.Format(domain.DateLayout)

	if c.Bool("direct") {
		return withApp(c.Context, func(a *app.App) error {
			subs := c.StringSlice("subscription")
			if len(subs) == 0 {
				subs = a.Config.Subscriptions
			}
			summary, err := a.Collector.RunCollection(c.Context, subs, runDate)
			printJSON(summary)
			return err
		})
	}

	return withClient(c, func(tc client.Client) error {
		run, err := tc.ExecuteWorkflow(c.Context, startOptions(workflows.CollectWorkflowID(date), versioning.QueueCollect),
			workflows.DailyCollectionWorkflow, workflows.DailyCollectionInput{
				RunDate:       date,
				Subscriptions: c.StringSlice("subscription"),
			})
		if err != nil {
			return fmt.Errorf("start collection: %w", err)
		}
		fmt.Printf("started workflow %s (run=%s)\n", run.GetID(), run.GetRunID())
		if !c.Bool("wait") {
			return nil
		}
		var result workflows.DailyCollectionResult
		err = run.Get(c.Context, &result)
		printJSON(result)
		return err
	})
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Analyze one week and send its report",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "week-start", Usage: "First day of the week (YYYY-MM-DD); defaults to last Monday-based week"},
			&cli.BoolFlag{Name: "wait", Usage: "Wait for the workflow result"},
		},
		Action: runAnalyze,
	}
}

func runAnalyze(c *cli.Context) error {
	start, end := workflows.PreviousWeek(time.Now().UTC())
	if raw := c.String("week-start"); raw != "" {
		s, err := dateFlag(raw, time.Time{})
		if err != nil {
			return err
		}
		start, end = s, s.AddDate(0, 0, 7)
	}
	weekKey := domain.WeekKey(start)

	if c.Bool("direct") {
		return withApp(c.Context, func(a *app.App) error {
			res, err := a.Weekly.RunWeeklyAnalysis(c.Context, start, end)
			printJSON(res)
			return err
		})
	}

	return withClient(c, func(tc client.Client) error {
		run, err := tc.ExecuteWorkflow(c.Context, startOptions(workflows.WeeklyWorkflowID(weekKey), versioning.QueueReport),
			workflows.WeeklyAnalysisWorkflow, workflows.WeeklyAnalysisInput{
				PeriodStart: start.Format(domain.DateLayout),
				PeriodEnd:   end.Format(domain.DateLayout),
			})
		if err != nil {
			return fmt.Errorf("start weekly analysis: %w", err)
		}
		fmt.Printf("started workflow %s (run=%s)\n", run.GetID(), run.GetRunID())
		if !c.Bool("wait") {
			return nil
		}
		var result workflows.WeeklyAnalysisResult
		err = run.Get(c.Context, &result)
		printJSON(result)
		return err
	})
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Re-run the daily collection for a range of run dates",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Required: true, Usage: "First run date (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "to", Required: true, Usage: "Last run date, inclusive (YYYY-MM-DD)"},
		},
		Action: func(c *cli.Context) error {
			from, to := c.String("from"), c.String("to")
			return withClient(c, func(tc client.Client) error {
				id := fmt.Sprintf("costpipe-backfill-%s-%s", from, to)
				run, err := tc.ExecuteWorkflow(c.Context, startOptions(id, versioning.QueueCollect),
					workflows.CollectionBackfillWorkflow, workflows.BackfillInput{From: from, To: to})
				if err != nil {
					return fmt.Errorf("start backfill: %w", err)
				}
				fmt.Printf("started workflow %s (run=%s)\n", run.GetID(), run.GetRunID())
				return nil
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show one workflow, or recent runs of a job",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workflow-id", Usage: "Workflow to describe"},
			&cli.StringFlag{Name: "job", Value: "weekly", Usage: "Job to list: collect or weekly"},
			&cli.StringFlag{Name: "state", Usage: "Filter by execution status, e.g. Failed"},
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(c *cli.Context) error {
			return withClient(c, func(tc client.Client) error {
				q := querier.New(tc)
				if id := c.String("workflow-id"); id != "" {
					desc, err := q.DescribeWorkflow(c.Context, id)
					if err != nil {
						return err
					}
					printJSON(desc)
					return nil
				}
				opts := querier.ListOptions{StatusFilter: c.String("state"), PageSize: c.Int("limit")}
				switch c.String("job") {
				case "collect":
					opts.TaskQueue, opts.IDPrefix = versioning.QueueCollect, workflows.CollectWorkflowID("")
				case "weekly":
					opts.TaskQueue, opts.IDPrefix = versioning.QueueReport, workflows.WeeklyWorkflowID("")
				default:
					return fmt.Errorf("unknown job %q", c.String("job"))
				}
				list, err := q.ListWorkflows(c.Context, opts)
				if err != nil {
					return err
				}
				printJSON(list)
				return nil
			})
		},
	}
}

// startOptions lets a failed run be started again under the same ID while a
// completed run blocks duplicates.
func startOptions(id, queue string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             queue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}
}

func withClient(c *cli.Context, fn func(client.Client) error) error {
	logger := observability.InitLogger("warn")
	tc, err := client.Dial(client.Options{
		HostPort:      c.String("temporal-address"),
		Logger:        observability.NewTemporalSlogAdapter(logger),
		DataConverter: codecs.DataConverter(),
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer tc.Close()
	return fn(tc)
}

func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	logger := observability.InitLogger(cfg.LogLevel)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Deps.Close()
	return fn(a)
}

func dateFlag(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return domain.Day(fallback), nil
	}
	t, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", raw)
	}
	return t, nil
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
