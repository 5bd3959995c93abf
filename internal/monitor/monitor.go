// Package monitor serves a read-only live view of the session store:
// active session summaries as JSON and a websocket tail of an active
// transcript. It is meant for a loopback listener on the gate host;
// it never mutates store state.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinkerbelle-io/tb-gate/internal/sid"
	"github.com/tinkerbelle-io/tb-gate/internal/store"
)

// Summary is the JSON shape of one session in listings.
type Summary struct {
	SID       string    `json:"sid"`
	Principal string    `json:"principal"`
	Peer      string    `json:"peer"`
	ParentSID string    `json:"parent_sid,omitempty"`
	Start     time.Time `json:"start"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// Server exposes the monitor endpoints.
type Server struct {
	store    *store.Store
	log      *slog.Logger
	upgrader websocket.Upgrader

	// pollInterval paces the transcript tail between reads.
	pollInterval time.Duration
}

// New builds a monitor over a session store.
func New(s *store.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:        s,
		log:          log.With("component", "monitor"),
		pollInterval: 250 * time.Millisecond,
	}
}

// Handler returns the monitor's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("GET /sessions/{sid}/stream", s.handleStream)
	return mux
}

// ListenAndServe runs the monitor until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("monitor listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.ListActive()
	if err != nil {
		s.log.Error("list active", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	summaries := make([]Summary, 0, len(metas))
	for _, m := range metas {
		summaries = append(summaries, Summary{
			SID:       m.SID,
			Principal: m.Principal,
			Peer:      m.Peer,
			ParentSID: m.ParentSID,
			Start:     m.Start,
			Degraded:  m.Degraded,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summaries); err != nil {
		s.log.Warn("encode listing", "error", err)
	}
}

// handleStream upgrades to a websocket and tails the active transcript,
// closing once the session leaves the active partition.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("sid")
	// The identifier becomes a path component; only well-formed SIDs
	// may reach the store.
	if _, err := sid.Parse(raw); err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	id := sid.SID(raw)
	path := s.store.TranscriptPath(id)

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "session not active", http.StatusNotFound)
		return
	}
	defer f.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	buf := make([]byte, 16*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.TextMessage, buf[:n]); werr != nil {
				return
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return
		}

		// At EOF: keep following while the session is still active.
		if _, serr := os.Stat(path); serr != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session archived"))
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.pollInterval):
		}
	}
}
