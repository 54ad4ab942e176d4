// Package main implements the quarry binary. It runs one hand-built TPC-H
// plan against a configured table source and prints the result:
//
//	quarry -query q1 -source sqlite -path tpch.db -format table
//	quarry export -source sqlite -path tpch.db -out ./segments -codec lz4
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/exec"
	"github.com/quarrydb/quarry/internal/output"
	"github.com/quarrydb/quarry/internal/tpch"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "export" {
		os.Exit(runExport(args[1:]))
	}
	os.Exit(runQuery(args))
}

// commonFlags are shared by every subcommand and override the loaded
// configuration when set.
type commonFlags struct {
	configPath   string
	envFile      string
	source       string
	path         string
	batchSize    int
	verbose      bool
	sampleOrders int
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to YAML or JSON config file")
	fs.StringVar(&c.envFile, "env", ".env", "Path to env file loaded before QUARRY_* variables are read")
	fs.StringVar(&c.source, "source", "", "Source format: memory, sqlite, parquet, arrow, segment")
	fs.StringVar(&c.path, "path", "", "SQLite file, or directory with one subdirectory per table")
	fs.IntVar(&c.batchSize, "batch-size", 0, "Rows per batch")
	fs.BoolVar(&c.verbose, "verbose", false, "Log the plan and per-operator statistics")
	fs.IntVar(&c.sampleOrders, "sample-orders", 1000, "Orders in the built-in dataset of the memory source")
}

// load builds the configuration: file, then environment, then flags that
// were set explicitly.
func (c *commonFlags) load(fs *flag.FlagSet, extra func(name string, cfg *config.Config)) (*config.Config, error) {
	cfg, err := config.Load(c.configPath, c.envFile)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source.Format = config.SourceFormat(c.source)
		case "path":
			cfg.Source.Path = c.path
		case "batch-size":
			cfg.Engine.BatchSize = c.batchSize
		case "verbose":
			cfg.Engine.Verbose = c.verbose
		default:
			if extra != nil {
				extra(f.Name, cfg)
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runQuery(args []string) int {
	fs := flag.NewFlagSet("quarry", flag.ExitOnError)
	var common commonFlags
	common.register(fs)

	params := tpch.DefaultParams()
	queryName := fs.String("query", "q1", "Query to run: q1, q3, q6")
	list := fs.Bool("list", false, "List the available queries and exit")
	format := fs.String("format", "", "Output format: table, csv, json")
	stats := fs.Bool("stats", false, "Print per-operator statistics after the result")
	maxGroups := fs.Int("max-groups", 0, "Maximum distinct groups per aggregate (0 = unbounded)")
	timeout := fs.Duration("timeout", 0, "Cancel the query after this long")
	fs.IntVar(&params.Q1Delta, "q1-delta", params.Q1Delta, "Q1: days before 1998-12-01 of the ship date cutoff")
	fs.StringVar(&params.Q3Segment, "q3-segment", params.Q3Segment, "Q3: customer market segment")
	fs.StringVar(&params.Q3Date, "q3-date", params.Q3Date, "Q3: order/ship date pivot")
	fs.IntVar(&params.Q3Limit, "q3-limit", params.Q3Limit, "Q3: number of orders returned")
	fs.StringVar(&params.Q6Date, "q6-date", params.Q6Date, "Q6: first day of the shipping year")
	fs.StringVar(&params.Q6Discount, "q6-discount", params.Q6Discount, "Q6: discount, matched within 0.01")
	fs.Int64Var(&params.Q6Quantity, "q6-quantity", params.Q6Quantity, "Q6: exclusive quantity limit")
	fs.Parse(args)

	if *list {
		for _, q := range tpch.Queries() {
			fmt.Printf("%-4s %-28s tables: %v\n", q.Name, q.Title, q.Tables)
		}
		return 0
	}

	cfg, err := common.load(fs, func(name string, cfg *config.Config) {
		switch name {
		case "format":
			cfg.Output.Format = *format
		case "stats":
			cfg.Output.Stats = *stats
		case "max-groups":
			cfg.Engine.MaxGroups = *maxGroups
		case "timeout":
			cfg.Engine.Timeout = *timeout
		}
	})
	if err != nil {
		output.WriteError(os.Stderr, err)
		return 2
	}

	query, err := tpch.Lookup(*queryName)
	if err != nil {
		output.WriteError(os.Stderr, err)
		return 2
	}
	params.BatchSize = cfg.Engine.BatchSize
	params.MaxGroups = cfg.Engine.MaxGroups

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Engine.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Engine.Timeout)
		defer cancel()
	}

	if cfg.Engine.Verbose {
		log.Printf("quarry: running %s (%s) from %s source", query.Name, query.Title, cfg.Source.Format)
	}

	res, err := execute(ctx, cfg, query, params, common.sampleOrders)
	if err != nil {
		output.WriteError(os.Stderr, err)
		return 1
	}

	if err := output.Write(os.Stdout, cfg.Output.Format, res.Schema, res.Rows); err != nil {
		output.WriteError(os.Stderr, err)
		return 1
	}
	if cfg.Output.Stats {
		output.WriteStats(os.Stderr, res.QueryID, res.Stats, res.Elapsed)
	}
	return 0
}

func execute(ctx context.Context, cfg *config.Config, query tpch.Query, params tpch.Params, sampleOrders int) (*exec.Result, error) {
	start := time.Now()
	opener, err := newTableOpener(ctx, cfg, sampleOrders)
	if err != nil {
		return nil, err
	}
	defer opener.release()
	root, err := query.Plan(ctx, opener.Open, params)
	if err != nil {
		return nil, err
	}
	if cfg.Engine.Verbose {
		log.Printf("quarry: planned %s in %s", query.Name, time.Since(start))
	}
	driver := exec.NewDriver(exec.DriverConfig{Verbose: cfg.Engine.Verbose})
	return driver.Execute(ctx, root)
}
