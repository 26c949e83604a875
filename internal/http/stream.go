package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth is enforced by the bearer middleware, not by origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// handleEvents streams a run's events via Server-Sent Events. Recorded events are replayed
// first; the stream ends after the terminal event or when the client disconnects.
//
//	GET /api/v1/runs/{id}/events
//
//	id: 1
//	event: stage
//	data: {"run_id":"...","sequence":1,"type":"stage","stage":"generate",...}
func (s *Server) handleEvents(c echo.Context) error {
	ctx := c.Request().Context()
	history, live, cancel, err := s.runs.Follow(ctx, c.Param("id"))
	if err != nil {
		return s.lookupError(err, "run")
	}
	defer cancel()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	defer s.metrics.streamOpened(c, "sse")()

	for _, ev := range history {
		if err := writeSSE(c.Response(), ev); err != nil {
			return nil
		}
	}
	if live == nil {
		return nil
	}

	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return nil
			}
			if err := writeSSE(c.Response(), ev); err != nil {
				s.logger.Debug("sse client gone", zap.String("run.id", ev.RunID), zap.Error(err))
				return nil
			}
			if ev.Terminal() {
				return nil
			}
		case <-ticker.C:
			fmt.Fprint(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

func writeSSE(w *echo.Response, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Sequence, ev.Type, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// handleWebSocket streams the same events as handleEvents as JSON text frames and closes
// with a normal closure after the terminal event. Client messages are ignored.
func (s *Server) handleWebSocket(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	history, live, cancel, err := s.runs.Follow(ctx, id)
	if err != nil {
		return s.lookupError(err, "run")
	}
	defer cancel()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("run.id", id), zap.Error(err))
		return nil
	}
	defer conn.Close()
	defer s.metrics.streamOpened(c, "websocket")()

	// Reading is required to process control frames and to notice the client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev orchestrator.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}
	closeNormal := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	}

	for _, ev := range history {
		if err := send(ev); err != nil {
			return nil
		}
	}
	if live == nil {
		closeNormal()
		return nil
	}

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				closeNormal()
				return nil
			}
			if err := send(ev); err != nil {
				s.logger.Debug("websocket client gone", zap.String("run.id", id), zap.Error(err))
				return nil
			}
			if ev.Terminal() {
				closeNormal()
				return nil
			}
		case <-gone:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
