package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"p2plend/services/lendingd/journal"
)

const streamWriteTimeout = 5 * time.Second

// handleEventStream pushes every journaled event to the client until either
// side closes the connection. Upgrades from another origin are refused with
// 403 unless the origin host matches Config.AllowedOrigins.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeMessage(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		s.logger.Warn("event stream upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	records, cancel := s.journal.Hub().Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	if err := streamRecords(ctx, conn, records); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamRecords(ctx context.Context, conn *websocket.Conn, records <-chan journal.Record) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec journal.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
