package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jacentio/embedding/embedding"
	"github.com/jacentio/embedding/internal/config"
	"github.com/jacentio/embedding/internal/invoice"
	"github.com/jacentio/embedding/internal/logging"
)

// app carries the state shared by every command.
type app struct {
	// Flags
	envFiles []string
	backend  string
	output   string
	logLevel string

	cfg      *config.Config
	logger   *slog.Logger
	registry *embedding.Registry

	// rendered counts the documents written by the running command.
	rendered int

	// open connects the configured backend. Tests replace it.
	open func(ctx context.Context, a *app) (*backend, error)
}

func newApp() *app {
	return &app{open: openBackend}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "embedctl",
		Short:        "Manage entities with embedded relations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", []string{".env"}, ".env files to load before reading the environment")
	root.PersistentFlags().StringVar(&a.backend, "backend", "", "persistence backend (memory, sqlite, postgres, dynamodb); overrides EMBED_BACKEND")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "json", "output format (json, yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level; overrides EMBED_LOG_LEVEL")

	root.AddCommand(
		newDemoCmd(a),
		newApplyCmd(a),
		newShowCmd(a),
		newDestroyCmd(a),
		newSchemaCmd(a),
	)
	return root
}

// init loads the configuration, the logger and the registry.
func (a *app) init(stderr io.Writer) error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Backend = a.backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	switch a.output {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	logger, err := logging.NewWriter(stderr, logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Color:  cfg.LogColor,
	})
	if err != nil {
		return err
	}

	reg := embedding.NewRegistry()
	if _, err := invoice.Define(reg); err != nil {
		return err
	}

	a.cfg = cfg
	a.rendered = 0
	a.logger = logger
	a.registry = reg
	return nil
}

// session opens the backend and returns a session over it. The caller must
// close the backend.
func (a *app) session(ctx context.Context) (*embedding.Session, *backend, error) {
	b, err := a.open(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	sess := embedding.NewSession(a.registry, b.engine,
		embedding.WithConfig(a.cfg.Embedding()),
		embedding.WithLogger(a.logger),
	)
	return sess, b, nil
}
