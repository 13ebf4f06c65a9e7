package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/meridianlab/gobacktest/internal/engine"
	"github.com/meridianlab/gobacktest/internal/engine/datasource"
	"github.com/meridianlab/gobacktest/internal/logger"
	"github.com/meridianlab/gobacktest/internal/optimizer"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := engine.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	series, err := datasource.LoadCSV(cmd.String("data"), cfg.Symbol)
	if err != nil {
		return err
	}

	lg, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer lg.Sync()

	eng, err := engine.New(cfg, lg)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	eng.SetResultsFolder(output)

	// Progress bar per replayed bar
	bar := progressbar.Default(int64(series.Len()))
	bar.Describe(fmt.Sprintf("Replaying %s (%s)", cfg.Symbol, cfg.Strategy.Kind))

	result, err := eng.Run(ctx, series, func(current, total int) {
		_ = bar.Set(current)
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nRun %s complete: %d bars, %d trades\n",
		result.RunID, result.BarsProcessed, result.Metrics.TradeCount)
	fmt.Printf("Final equity %.2f (PnL %.2f, buy-and-hold %.2f)\n",
		result.FinalEquity, result.Metrics.TotalPnL, result.Metrics.BuyAndHoldPnL)
	fmt.Printf("Sharpe %.4f  Sortino %.4f  MaxDrawdown %.2f%%  ProfitFactor %s\n",
		result.Metrics.Sharpe, result.Metrics.Sortino,
		result.Metrics.MaxDrawdown*100, result.Metrics.ProfitFactorStr)
	fmt.Printf("Results written to %s\n", output)

	return nil
}

func optimizeAction(ctx context.Context, cmd *cli.Command) error {
	data, err := os.ReadFile(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to read sweep config: %w", err)
	}

	var cfg optimizer.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse sweep config: %w", err)
	}

	series, err := datasource.LoadCSV(cmd.String("data"), cfg.Base.Symbol)
	if err != nil {
		return err
	}

	lg, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer lg.Sync()

	opt, err := optimizer.New(cfg, lg)
	if err != nil {
		return err
	}

	var report any

	trainBars := cmd.Int("train-bars")
	testBars := cmd.Int("test-bars")

	if trainBars > 0 || testBars > 0 {
		report, err = opt.WalkForward(ctx, series, int(trainBars), int(testBars))
	} else {
		report, err = opt.GridSearch(ctx, series)
	}

	if err != nil {
		return err
	}

	out, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep report: %w", err)
	}

	output := cmd.String("output")
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(output, out, 0644); err != nil {
		return fmt.Errorf("failed to write sweep report: %w", err)
	}

	fmt.Printf("Sweep report written to %s\n", output)

	return nil
}

func schemaAction(ctx context.Context, cmd *cli.Command) error {
	cfg := engine.Config{}

	schema, err := cfg.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Deterministic strategy backtesting over historical price bars",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Replay one strategy over a CSV price series",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the run configuration YAML",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Path to the price-bar CSV file",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Results folder (stats.yaml plus Parquet ledger tables)",
						Value:   "results",
					},
				},
				Action: runAction,
			},
			{
				Name:  "optimize",
				Usage: "Sweep a strategy parameter space",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the sweep configuration YAML",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Path to the price-bar CSV file",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path for the sweep report YAML",
						Value:   "results/sweep.yaml",
					},
					&cli.IntFlag{
						Name:  "train-bars",
						Usage: "Walk-forward train window length in bars (grid search when omitted)",
					},
					&cli.IntFlag{
						Name:  "test-bars",
						Usage: "Walk-forward test window length in bars",
					},
				},
				Action: optimizeAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the run configuration JSON schema",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
