// Command emom curates facial-emotion image datasets: it extracts labelled
// archives, quarantines images a face detector disagrees with, and splits the
// result into train and test folders.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/tsawler/go-emom/config"
	"github.com/tsawler/go-emom/curation"
	"github.com/tsawler/go-emom/logging"
	"github.com/tsawler/go-emom/metrics"
)

const usage = `Usage: emom [--config file] <command> [flags] [args]

Commands:
  extract <archive> [dataset]          extract a labelled zip archive into a dataset
  filter  <dataset> <save> <quarantine> keep images the detector confirms
  split   <dataset>                    split a dataset into train/ and test/
  train   <dataset>                    fit a classifier on train/, evaluate on test/
  inspect <dataset>                    print class counts and the manifest
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "emom: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every command needs
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	reg    *prometheus.Registry
	parser *curation.Parser
	out    io.Writer
	errOut io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := pflag.NewFlagSet("emom", pflag.ContinueOnError)
	global.SetOutput(stderr)
	global.SetInterspersed(false)
	configPath := global.StringP("config", "c", "", "config file (default $EMOM_CONFIG or ./emom.yaml)")
	global.Usage = func() { fmt.Fprint(stderr, usage) }

	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("no command given")
	}

	a, err := newApp(*configPath, stdout, stderr)
	if err != nil {
		return err
	}

	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "extract":
		err = a.extract(ctx, rest)
	case "filter":
		err = a.filter(ctx, rest)
	case "split":
		err = a.split(ctx, rest)
	case "train":
		err = a.train(ctx, rest)
	case "inspect":
		err = a.inspect(rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	if exportErr := a.exportMetrics(); exportErr != nil {
		a.log.Warn().Err(exportErr).Msg("failed to write metrics")
	}
	return err
}

func newApp(configPath string, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: stderr,
	})

	folders, err := cfg.Folders()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	parser := curation.NewParser(cfg.DataDir,
		curation.WithFolderMap(folders),
		curation.WithStagingName(cfg.StagingDirName),
		curation.WithLogger(logging.Component("curation")),
		curation.WithMetrics(metrics.NewCuration(reg)),
	)

	return &app{
		cfg:    cfg,
		log:    logging.Component("cli"),
		reg:    reg,
		parser: parser,
		out:    stdout,
		errOut: stderr,
	}, nil
}

// exportMetrics writes the run counters in the node_exporter textfile format
func (a *app) exportMetrics() error {
	if a.cfg.Metrics.Textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.reg)
}

// newFlags returns a flag set for a subcommand
func (a *app) newFlags(name, args string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.errOut)
	fs.Usage = func() {
		fmt.Fprintf(a.errOut, "Usage: emom %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}
