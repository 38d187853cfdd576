package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/progress"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
)

// live streams a campaign's progress events over a WebSocket. The first
// message is the latest run, when there is one.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed not configured")
		return
	}
	id := chi.URLParam(r, "id")
	st, err := s.deps.Router.Status(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}

	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		zap.L().Debug("api: websocket upgrade", zap.String("campaign_id", id), zap.Error(err))
		return
	}
	defer conn.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe, err := s.deps.Broker.Subscribe(ctx, id)
	if err != nil {
		zap.L().Warn("api: subscribe live feed", zap.String("campaign_id", id), zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer unsubscribe()

	go drain(conn, cancel)

	if st.LatestRun != nil {
		snap := progress.NewEvent(progress.KindRunStatus, id, st.LatestRun.ID, st.LatestRun)
		if err := writeEvent(conn, snap); err != nil {
			return
		}
	}

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			closeWith(conn, websocket.CloseGoingAway, "")
			return
		case ev, ok := <-events:
			if !ok {
				closeWith(conn, websocket.CloseNormalClosure, "")
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				zap.L().Debug("api: live write", zap.String("campaign_id", id), zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}

// drain reads until the client goes away. Inbound messages are ignored.
func drain(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev progress.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(liveWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(liveWriteWait))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.deps.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.deps.AllowedOrigins, "*") || slices.Contains(s.deps.AllowedOrigins, origin)
}
