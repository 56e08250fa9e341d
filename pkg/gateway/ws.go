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
package gateway

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/fault"
)

// Stream message types, in emission order: status, intent, zero or more
// partial frames, then exactly one result or error frame.
const (
	frameStatus  = "status"
	frameIntent  = "intent"
	framePartial = "partial"
	frameResult  = "result"
	frameError   = "error"
)

type streamFrame struct {
	Type    string      `json:"type"`
	Message string      `json:"message,omitempty"`
	Intent  *Intent     `json:"intent,omitempty"`
	Content string      `json:"content,omitempty"`
	Result  *Response   `json:"result,omitempty"`
	Kind    fault.Kind  `json:"kind,omitempty"`
}

type streamRequest struct {
	Query   string                 `json:"query"`
	Context map[string]interface{} `json:"context,omitempty"`
}

const streamWriteTimeout = 5 * time.Second

// handleStream upgrades to WebSocket, reads one query, and streams the
// handling progress back.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := c.Request.Context()

	var req streamRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		s.streamError(ctx, conn, fault.Wrap(fault.KindBadRequest, err, "invalid stream request"))
		return
	}
	if req.Query == "" {
		s.streamError(ctx, conn, fault.New(fault.KindBadRequest, "query is required"))
		return
	}

	s.writeFrame(ctx, conn, streamFrame{Type: frameStatus, Message: "classifying"})

	intent := s.gateway.Classify(ctx, req.Query)
	s.writeFrame(ctx, conn, streamFrame{Type: frameIntent, Intent: &intent})

	if intent.AgentID != "" && intent.Name != IntentCoordination {
		s.writeFrame(ctx, conn, streamFrame{Type: framePartial, Content: "dispatching to " + intent.AgentID})
	} else {
		s.writeFrame(ctx, conn, streamFrame{Type: framePartial, Content: "coordinating across agents"})
	}

	response, err := s.gateway.handleClassified(ctx, req.Query, req.Context, intent)
	if err != nil {
		s.streamError(ctx, conn, err)
		return
	}

	s.writeFrame(ctx, conn, streamFrame{Type: frameResult, Result: response})
	conn.Close(websocket.StatusNormalClosure, "")
}

// streamError sends the terminal error frame, then closes.
func (s *Server) streamError(ctx context.Context, conn *websocket.Conn, err error) {
	s.writeFrame(ctx, conn, streamFrame{
		Type:    frameError,
		Kind:    fault.KindOf(err),
		Message: fault.ToEnvelope(err).Error.Message,
	})
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame streamFrame) {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, frame); err != nil {
		s.logger.Debug("stream write failed", zap.Error(err))
	}
}
