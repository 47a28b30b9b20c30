package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"adversary/internal/config"
	advapi "adversary/pkg/adversary"
)

const defaultConfigPath = "adversary.yaml"

// cliOptions holds flag values. Only flags the user actually set override
// the config file.
type cliOptions struct {
	configPath  string
	store       string
	dbPath      string
	reportsDir  string
	metricsFile string
	metricsAddr string
	logLevel    string
	logFormat   string

	population  int
	generations int
	mutation    float64
	seed        int64
	timeout     time.Duration
	iterations  int
	selection   string
}

func bindCommonFlags(fs *flag.FlagSet) *cliOptions {
	def := config.Default()
	opts := &cliOptions{}
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "config file (YAML or JSON); missing default file is ignored")
	fs.StringVar(&opts.store, "store", def.Store, "store backend: memory|sqlite")
	fs.StringVar(&opts.dbPath, "db-path", def.DBPath, "sqlite database path")
	fs.StringVar(&opts.reportsDir, "reports-dir", def.ReportsDir, "directory for run artifacts and the run index")
	fs.StringVar(&opts.logLevel, "log-level", def.LogLevel, "log level: debug|info|warn|error")
	fs.StringVar(&opts.logFormat, "log-format", def.LogFormat, "log format: text|json")
	return opts
}

func bindEngineFlags(fs *flag.FlagSet, opts *cliOptions) {
	def := config.Default()
	fs.IntVar(&opts.population, "pop", def.PopulationSize, "population size")
	fs.IntVar(&opts.generations, "gens", def.Generations, "generations per target")
	fs.Float64Var(&opts.mutation, "mutation-rate", def.MutationRate, "mutation probability")
	fs.Int64Var(&opts.seed, "seed", def.Seed, "random seed")
	fs.DurationVar(&opts.timeout, "timeout", def.Timeout, "per-invocation deadline")
	fs.IntVar(&opts.iterations, "fuzz-iterations", def.FuzzIterations, "probabilistic sweep iterations")
	fs.StringVar(&opts.selection, "selection", def.Selection, "parent selection: uniform|tournament")
	fs.StringVar(&opts.metricsFile, "metrics-file", def.MetricsFile, "write prometheus textfile metrics here")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while the command runs")
}

// resolveConfig loads the config file and applies explicitly set flags.
func (o *cliOptions) resolveConfig(fs *flag.FlagSet) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	if explicit {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, _, err = config.LoadOptional(o.configPath)
	}
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "store":
			cfg.Store = o.store
		case "db-path":
			cfg.DBPath = o.dbPath
		case "reports-dir":
			cfg.ReportsDir = o.reportsDir
		case "metrics-file":
			cfg.MetricsFile = o.metricsFile
		case "log-level":
			cfg.LogLevel = o.logLevel
		case "log-format":
			cfg.LogFormat = o.logFormat
		case "pop":
			cfg.PopulationSize = o.population
		case "gens":
			cfg.Generations = o.generations
		case "mutation-rate":
			cfg.MutationRate = o.mutation
		case "seed":
			cfg.Seed = o.seed
		case "timeout":
			cfg.Timeout = o.timeout
		case "fuzz-iterations":
			cfg.FuzzIterations = o.iterations
		case "selection":
			cfg.Selection = o.selection
		}
	})
	return cfg, cfg.Validate()
}

func (o *cliOptions) client(fs *flag.FlagSet) (*advapi.Client, error) {
	cfg, err := o.resolveConfig(fs)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	return advapi.New(advapi.Options{Config: &cfg, Logger: logger})
}

// serveMetrics starts the metrics endpoint when --metrics-addr is set. A nil
// stop func means nothing was started.
func (o *cliOptions) serveMetrics(client *advapi.Client) (func(), error) {
	if o.metricsAddr == "" {
		return nil, nil
	}
	addr, stop, err := serveMetrics(o.metricsAddr, client.Metrics().Handler())
	if err != nil {
		return nil, err
	}
	slog.Info("serving metrics", "addr", addr)
	return stop, nil
}
