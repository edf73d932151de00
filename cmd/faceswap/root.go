package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maauso/faceswap-api/internal/config"
	"github.com/maauso/faceswap-api/internal/tracing"
)

const serviceName = "faceswap-api"

// version is set at build time with -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "faceswap",
		Short:         "Face-swap video job API and worker",
		Long:          `faceswap accepts face-swap video jobs over HTTP, processes them frame by frame and publishes the result.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newWorkCmd())
	root.AddCommand(newJobsCmd())
	return root
}

// loadRuntime loads configuration, installs the default logger and starts
// tracing. The returned shutdown func flushes pending spans.
func loadRuntime(ctx context.Context) (*config.Config, *slog.Logger, tracing.ShutdownFunc, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	shutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init tracing: %w", err)
	}
	if cfg.TracingEnabled() {
		logger.Info("tracing enabled", slog.String("endpoint", cfg.OTLPEndpoint))
	}
	return cfg, logger, shutdown, nil
}
