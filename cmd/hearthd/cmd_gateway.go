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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/coordinator"
	"github.com/hearth-labs/hearth/pkg/gateway"
	"github.com/hearth-labs/hearth/pkg/interpreter"
)

var gatewayCoordinatorURL string

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the user-facing gateway",
	Long:  `The gateway accepts user queries over HTTP and WebSocket, classifies intent, and routes to a single agent or through the coordinator.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := setup()

		interp := interpreter.New(interpreter.Config{
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
			Timeout: cfg.LLMTimeout,
			Logger:  logger,
		})

		preflightModel(interp, cfg.LLMModel, logger)

		coordinatorURL := gatewayCoordinatorURL
		if coordinatorURL == "" {
			coordinatorURL = fmt.Sprintf("http://localhost:%d", cfg.CoordinatorPort)
		}

		g, err := gateway.New(gateway.Config{
			Directory:   newRegistryDirectory(cfg.RegistryURL),
			Coordinator: coordinator.NewClient(coordinatorURL),
			Interpreter: interp,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("building gateway failed", zap.Error(err))
			os.Exit(exitRuntimeError)
		}

		server := gateway.NewServer(g, cfg.GatewayPort)
		runService(logger, "gateway", server.Start, server.Stop)
	},
}

func init() {
	gatewayCmd.Flags().StringVar(&gatewayCoordinatorURL, "coordinator-url", "",
		"coordinator base URL (default from COORDINATOR_PORT on localhost)")
}
