package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/state"
)

type agentAttachRequest struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
}

type agentAttachLocalResponse struct {
	Type       string `json:"type"`
	SocketPath string `json:"socketPath"`
}

type agentAttachReadyResponse struct {
	Type string `json:"type"`
}

// handleAgentAttach implements the special connection-upgrading request
// (spec §4.7, §6.2): for a locally-run agent it returns the coop socket
// path and closes; for a remote (container/k8s) agent it acknowledges with
// AgentAttachReady and then turns the connection into a raw bidirectional
// byte bridge to the agent's WebSocket endpoint.
func (l *Listener) handleAgentAttach(ctx context.Context, conn net.Conn, frame []byte) {
	var req agentAttachRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		_ = writeResponse(conn, errResp("malformed AgentAttach: %v", err))
		return
	}

	var agent *model.AgentRecord
	var full string
	var resolveErr error
	l.bus.View(func(s *state.MaterializedState) {
		full, resolveErr = ids.Resolve(agentIDStrings(s), req.AgentID)
		if resolveErr == nil {
			if a, ok := s.Agents[ids.AgentID(full)]; ok {
				cp := *a
				agent = &cp
			}
		}
	})
	if resolveErr != nil || agent == nil {
		_ = writeResponse(conn, errResp("agent not found: %s", req.AgentID))
		return
	}

	if agent.Runtime == model.RuntimeLocal {
		sockPath := filepath.Join(l.stateDir, "agents", ids.ShortAgentID(agent.AgentID), "coop.sock")
		_ = writeResponse(conn, agentAttachLocalResponse{Type: "AgentAttachLocal", SocketPath: sockPath})
		return
	}

	if err := writeResponse(conn, agentAttachReadyResponse{Type: "AgentAttachReady"}); err != nil {
		return
	}
	l.proxyToRemoteAgent(ctx, conn, agent)
}

// proxyToRemoteAgent dials the remote agent's raw WebSocket endpoint and
// pumps bytes in both directions until either side closes or ctx is
// cancelled (spec §6.2 "the connection becomes a raw bidirectional byte
// stream proxied to the agent's WebSocket endpoint").
func (l *Listener) proxyToRemoteAgent(ctx context.Context, conn net.Conn, agent *model.AgentRecord) {
	host := "localhost"
	u := url.URL{
		Scheme:   "ws",
		Host:     fmt.Sprintf("%s:%d", host, l.cfg.RemoteAgentWSPort),
		Path:     "/ws",
		RawQuery: fmt.Sprintf("mode=raw&token=%s", url.QueryEscape(agent.AuthToken)),
	}

	dialCtx, cancel := context.WithTimeout(ctx, l.requestTimeout())
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		l.log.WithError(err).Warn("agent attach proxy dial failed", zap.String("agent_id", string(agent.AgentID)))
		return
	}
	defer ws.Close()

	var once sync.Once
	stop := make(chan struct{})
	closeStop := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer closeStop()
		buf := make([]byte, 32*1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if err := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer closeStop()
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
				continue
			}
			if _, err := conn.Write(data); err != nil {
				return
			}
		}
	}()

	select {
	case <-stop:
	case <-ctx.Done():
	}
}
