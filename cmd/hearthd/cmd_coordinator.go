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
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/coordinator"
	"github.com/hearth-labs/hearth/pkg/interpreter"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the multi-agent coordinator",
	Long:  `The coordinator executes multi-agent queries through the router, planner, executor, reviewer pipeline under policy control.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := setup()

		policy := coordinator.NewPolicyEngine(logger)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if cfg.PolicyFile != "" {
			if err := policy.LoadFile(cfg.PolicyFile); err != nil {
				logger.Error("loading policy file failed", zap.Error(err))
			} else if err := policy.Watch(ctx, cfg.PolicyFile); err != nil {
				logger.Warn("policy hot reload unavailable", zap.Error(err))
			}
		}

		interp := interpreter.New(interpreter.Config{
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
			Timeout: cfg.LLMTimeout,
			Logger:  logger,
		})

		preflightModel(interp, cfg.LLMModel, logger)

		c, err := coordinator.New(coordinator.Config{
			Directory:   newRegistryDirectory(cfg.RegistryURL),
			Policy:      policy,
			Interpreter: interp,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("building coordinator failed", zap.Error(err))
			os.Exit(exitRuntimeError)
		}

		server := coordinator.NewServer(c, cfg.CoordinatorPort)
		runService(logger, "coordinator", server.Start, server.Stop)
	},
}
