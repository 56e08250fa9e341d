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
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hearth-labs/hearth/pkg/registry"
)

var registryPort int

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Run the agent registry",
	Long:  `The registry tracks running agents, probes their liveness, and serves capability discovery.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := setup()

		if registryPort == 0 {
			registryPort = portFromURL(cfg.RegistryURL, 9100)
		}

		r := registry.New(registry.Config{Logger: logger})
		server := registry.NewServer(r, registryPort)
		runService(logger, "registry", server.Start, server.Stop)
	},
}

func init() {
	registryCmd.Flags().IntVar(&registryPort, "port", 0, "listen port (default from REGISTRY_URL)")
}

func portFromURL(raw string, fallback int) int {
	u, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if n, err := strconv.Atoi(u.Port()); err == nil && n > 0 {
		return n
	}
	return fallback
}
