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
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/internal/mailagent"
	"github.com/hearth-labs/hearth/pkg/agent"
	"github.com/hearth-labs/hearth/pkg/cache"
	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/config"
	"github.com/hearth-labs/hearth/pkg/fault"
	"github.com/hearth-labs/hearth/pkg/interpreter"
	"github.com/hearth-labs/hearth/pkg/registry"
	"github.com/hearth-labs/hearth/pkg/storage"
	"github.com/hearth-labs/hearth/pkg/syncer"
)

const (
	defaultMailAgentPort = 9200
	heartbeatInterval    = 15 * time.Second
)

var (
	mailAgentPort     int
	mailAgentEndpoint string
)

var mailAgentCmd = &cobra.Command{
	Use:   "mail-agent",
	Short: "Run the mail agent",
	Long:  `The mail agent serves mail.search, mail.get_recent, and mail.count over a locally synced mail mirror.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := setup()

		if cfg.AgentMode != config.ModeDemo {
			fmt.Fprintln(os.Stderr, "configuration error: AGENT_MODE=live needs a mail upstream, only demo fixtures are available")
			os.Exit(exitConfigError)
		}

		agentDir := cfg.CachePath(mailagent.AgentID)
		if err := os.MkdirAll(agentDir, 0o700); err != nil {
			logger.Error("creating agent data directory failed", zap.Error(err))
			os.Exit(exitRuntimeError)
		}
		dbKey := os.Getenv("HEARTH_DB_KEY")

		semCache, err := cache.New(cache.Config{
			DBPath:          filepath.Join(agentDir, "agent_cache.db"),
			L2URL:           cfg.CacheL2URL,
			EncryptDatabase: cfg.EncryptDatabases,
			EncryptionKey:   dbKey,
			Logger:          logger,
		})
		if err != nil {
			logger.Error("opening semantic cache failed", zap.Error(err))
			os.Exit(exitRuntimeError)
		}

		store, err := syncer.OpenStore(storage.DBConfig{
			Path:            filepath.Join(agentDir, "mail_sync.db"),
			EncryptDatabase: cfg.EncryptDatabases,
			EncryptionKey:   dbKey,
		})
		if err != nil {
			logger.Error("opening sync store failed", zap.Error(err))
			os.Exit(exitRuntimeError)
		}

		worker, err := syncer.NewWorker(syncer.WorkerConfig{
			Store:   store,
			Fetcher: mailagent.NewFixtureFetcher(),
			Logger:  logger,
		})
		if err != nil {
			logger.Error("building sync worker failed", zap.Error(err))
			os.Exit(exitRuntimeError)
		}

		interp := interpreter.New(interpreter.Config{
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
			Timeout: cfg.LLMTimeout,
			Logger:  logger,
		})

		preflightModel(interp, cfg.LLMModel, logger)

		a, err := mailagent.New(mailagent.Config{
			Store:         store,
			Cache:         semCache,
			Interpreter:   interp,
			MinConfidence: cfg.MinConfidence,
			Logger:        logger,
		})
		if err != nil {
			logger.Error("building mail agent failed", zap.Error(err))
			os.Exit(exitRuntimeError)
		}

		endpoint := mailAgentEndpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("http://localhost:%d", mailAgentPort)
		}
		registryClient := registry.NewClient(cfg.RegistryURL)
		server := agent.NewServer(a, mailAgentPort)

		heartbeatStop := make(chan struct{})
		start := func(ctx context.Context) error {
			if err := worker.Start(ctx); err != nil {
				return err
			}
			if err := server.Start(ctx); err != nil {
				return err
			}
			if err := registryClient.Register(ctx, a.Manifest(), endpoint); err != nil {
				// The agent keeps serving; the registry may come up later
				// and catch the next registration attempt.
				logger.Warn("registry registration failed", zap.Error(err))
			}
			go heartbeatLoop(registryClient, a.Manifest(), endpoint, logger, heartbeatStop)
			return nil
		}
		stop := func(ctx context.Context) error {
			close(heartbeatStop)
			if err := registryClient.Unregister(ctx, mailagent.AgentID); err != nil {
				logger.Warn("registry unregister failed", zap.Error(err))
			}
			if err := server.Stop(ctx); err != nil {
				return err
			}
			if err := worker.Stop(ctx); err != nil {
				return err
			}
			if err := semCache.Close(); err != nil {
				logger.Warn("closing cache failed", zap.Error(err))
			}
			return store.Close()
		}

		runService(logger, "mail-agent", start, stop)
	},
}

func init() {
	mailAgentCmd.Flags().IntVar(&mailAgentPort, "port", defaultMailAgentPort, "listen port")
	mailAgentCmd.Flags().StringVar(&mailAgentEndpoint, "endpoint", "",
		"endpoint advertised to the registry (default http://localhost:<port>)")
}

// heartbeatLoop keeps the registry's liveness view fresh and re-registers
// if the registry restarted and lost the agent.
func heartbeatLoop(client *registry.Client, manifest capability.Manifest, endpoint string, logger *zap.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := client.Heartbeat(ctx, manifest.AgentID)
			if err != nil && fault.KindOf(err) == fault.KindNotFound {
				err = client.Register(ctx, manifest, endpoint)
			}
			cancel()
			if err != nil {
				logger.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}
