// Copyright 2026 Hearth Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	hearthlog "github.com/hearth-labs/hearth/internal/log"
	"github.com/hearth-labs/hearth/internal/version"
	"github.com/hearth-labs/hearth/pkg/config"
	"github.com/hearth-labs/hearth/pkg/fault"
)

// Exit codes: 0 clean, 1 configuration error, 2 unrecoverable failure.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2

	shutdownGrace = 10 * time.Second
)

var rootCmd = &cobra.Command{
	Use:     "hearthd",
	Short:   "Hearth - local-first multi-agent personal assistant platform",
	Long:    `Hearth runs a gateway, an agent registry, a coordinator, and domain agents entirely on this machine, backed by a local LLM endpoint.`,
	Version: version.Get(),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(mailAgentCmd)
}

// setup loads config and builds the logger, exiting with the config code
// on bad settings.
func setup() (*config.Config, *zap.Logger) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfigError)
	}

	logger, err := hearthlog.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfigError)
	}
	return cfg, logger
}

// runService starts a component and blocks until SIGINT or SIGTERM, then
// stops it within the shutdown grace period.
func runService(logger *zap.Logger, name string, start func(ctx context.Context) error, stop func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := start(ctx); err != nil {
		if fault.KindOf(err) == fault.KindBadRequest {
			logger.Error("invalid configuration", zap.String("service", name), zap.Error(err))
			os.Exit(exitConfigError)
		}
		logger.Error("service failed to start", zap.String("service", name), zap.Error(err))
		os.Exit(exitRuntimeError)
	}
	logger.Info("service running", zap.String("service", name))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer stopCancel()
	if err := stop(stopCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		os.Exit(exitRuntimeError)
	}
	os.Exit(exitOK)
}
