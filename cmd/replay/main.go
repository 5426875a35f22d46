package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jengzang/drivescore-backend-go/internal/config"
	"github.com/jengzang/drivescore-backend-go/internal/logging"
	"github.com/jengzang/drivescore-backend-go/internal/replay"
	"github.com/jengzang/drivescore-backend-go/internal/scoring"
	"github.com/jengzang/drivescore-backend-go/internal/stats"
	"github.com/jengzang/drivescore-backend-go/internal/submission"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.LogFormat, cfg.Debug)

	app := &cli.App{
		Name:      "drivescore-replay",
		Usage:     "score recorded trips",
		ArgsUsage: "<recording.csv>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "policy",
				Value: cfg.ScoringPolicy,
				Usage: "scoring policy: standard or conservative",
			},
			&cli.DurationFlag{
				Name:  "min-duration",
				Value: cfg.MinTripDuration,
				Usage: "shortest trip that is scored",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Value: 4,
				Usage: "recordings processed in parallel",
			},
			&cli.BoolFlag{
				Name:  "submit",
				Usage: "submit accepted trips to the configured backend",
			},
			&cli.StringFlag{
				Name:  "driver",
				Usage: "driver id used when submitting",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("no recordings given", 2)
			}

			policy, err := scoring.ParsePolicy(c.String("policy"))
			if err != nil {
				return err
			}

			opts := replay.Options{
				Policy:      policy,
				MinDuration: c.Duration("min-duration"),
				Concurrency: c.Int("concurrency"),
				DriverID:    c.String("driver"),
			}
			if c.Bool("submit") {
				opts.Submitter = submission.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.SubmitTimeout)
			}

			results, err := replay.Files(c.Context, c.Args().Slice(), opts)
			if err != nil {
				return err
			}
			return printResults(results)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func printResults(results []replay.Result) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRIP\tDURATION\tDISTANCE\tMAX ACCEL\tMAX BRAKE\tHARSH\tSCORE\tRATING")

	var scores []int
	for _, r := range results {
		a := r.Aggregate
		if r.Rejected {
			fmt.Fprintf(w, "%s\t%.0fs\t%.0fm\t-\t-\t-\t-\trejected: %s\n", r.Name, a.DurationSeconds, a.DistanceMeters, r.Reason)
			continue
		}
		scores = append(scores, r.Score.Score)
		fmt.Fprintf(w, "%s\t%.0fs\t%.0fm\t%.2f\t%.2f\t%d\t%d\t%s\n",
			r.Name, a.DurationSeconds, a.DistanceMeters, a.MaxAcceleration, a.MaxBraking,
			a.HarshAccelerations+a.HarshBrakes, r.Score.Score, r.Score.Rating)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s := stats.Summarize(scores)
	fmt.Printf("\n%d scored, mean %.1f, p50 %.1f, p90 %.1f, min %d, max %d\n", s.Count, s.Mean, s.P50, s.P90, s.Min, s.Max)
	return nil
}
