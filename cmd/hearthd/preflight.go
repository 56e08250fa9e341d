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
	"time"

	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/interpreter"
)

// preflightModel pings the local model endpoint so a missing model shows up
// in the logs at startup instead of on the first query. Non-fatal: services
// degrade to keyword classification and fallback verbs without the model.
func preflightModel(interp *interpreter.Interpreter, model string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	models, err := interp.ListModels(ctx)
	if err != nil {
		logger.Warn("model endpoint preflight failed", zap.Error(err))
		return
	}
	for _, m := range models {
		if m == model {
			logger.Info("model available", zap.String("model", model))
			return
		}
	}
	logger.Warn("configured model not found on endpoint",
		zap.String("model", model), zap.Strings("available", models))
}
