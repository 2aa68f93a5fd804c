package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Epistemic-Technology/batiment-compare/internal/config"
	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "batiment-compare: %v\n", err)
		if config.IsConfigurationError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "batiment-compare",
		Usage: "Compare a reference and a final construction drawing set",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-dir", Value: ".", Usage: "directory holding config.yaml and .env"},
			&cli.BoolFlag{Name: "no-store", Usage: "do not record the run in the local database"},
		},
		Commands: []*cli.Command{
			geometryCommand(),
			verifyCommand(),
			diffCommand(),
			annotationsCommand(),
			runsCommand(),
		},
	}
}

// setup loads the configuration and a logger writing to stderr unless
// configured otherwise.
func setup(c *cli.Context) (config.Config, logger.Logger, error) {
	cfg, err := config.Load(c.String("config-dir"))
	if err != nil {
		return config.Config{}, nil, err
	}
	output := cfg.LogOutput
	if output == "" {
		output = "stderr"
	}
	log, err := logger.NewLogger(logger.LogConfig{Output: output, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
