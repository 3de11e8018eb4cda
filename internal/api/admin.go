package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"onebreath/internal/observability"
	"onebreath/pkg/domain"
)

const (
	defaultLogDays    = 3
	performanceWindow = 100
	streamPing        = 30 * time.Second
	streamWriteWait   = 10 * time.Second
)

type healthResponse struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	ActiveConnections int64     `json:"active_connections"`
	LastSweep         any       `json:"last_sweep,omitempty"`
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:            "healthy",
		Timestamp:         s.clock.Now().UTC(),
		ActiveConnections: s.streams.Load(),
	}
	if s.deps.Monitor != nil {
		if report, ok := s.deps.Monitor.LastReport(); ok {
			resp.LastSweep = report
			if report.Error != "" {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logWindow(r *http.Request) (time.Time, error) {
	days := defaultLogDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return time.Time{}, domain.Errorf(domain.KindInvalid, "log window", "days must be a non-negative integer, got %q", raw)
		}
		days = n
	}
	return since(s.clock.Now(), days), nil
}

func (s *Server) handleErrorLogs(w http.ResponseWriter, r *http.Request) {
	cutoff, err := s.logWindow(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries := []observability.LogEntry{}
	if s.deps.Logs != nil {
		if found := s.deps.Logs.Entries(cutoff, zapcore.ErrorLevel); found != nil {
			entries = found
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRequestLogs(w http.ResponseWriter, r *http.Request) {
	cutoff, err := s.logWindow(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.requests.Since(cutoff))
}

type performanceSample struct {
	Timestamp  time.Time `json:"timestamp"`
	Route      string    `json:"route"`
	Status     int       `json:"status"`
	DurationMS float64   `json:"duration_ms"`
}

func (s *Server) handleAdminMetrics(w http.ResponseWriter, _ *http.Request) {
	recent := s.requests.Last(performanceWindow)
	perf := make([]performanceSample, 0, len(recent))
	for _, e := range recent {
		perf = append(perf, performanceSample{Timestamp: e.Time, Route: e.Method + " " + e.Route, Status: e.Status, DurationMS: e.DurationMS})
	}
	writeJSON(w, http.StatusOK, map[string]any{"performance": perf})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		s.writeError(w, r, domain.Errorf(domain.KindUpstreamUnavailable, "sweep", "monitor disabled"))
		return
	}
	report, err := s.deps.Monitor.Sweep(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backuper == nil {
		s.writeError(w, r, domain.Errorf(domain.KindUpstreamUnavailable, "backup", "backups not configured"))
		return
	}
	res, err := s.deps.Backuper.Backup(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "backup": res})
}

type streamEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.cfg.CORSOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleLogStream pushes every new log entry to an admin websocket until
// the client disconnects or the server shuts down.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		s.writeError(w, r, domain.Errorf(domain.KindUpstreamUnavailable, "log stream", "log capture disabled"))
		return
	}
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	entries, cancel := s.deps.Logs.Subscribe(0)
	defer cancel()
	active := s.streams.Add(1)
	defer s.streams.Add(-1)

	// Reads only drive control frames; a read error means the peer left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev streamEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(ev)
	}
	if err := send(streamEvent{Event: "connection_update", Data: map[string]int64{"active_connections": active}}); err != nil {
		return
	}
	ping := time.NewTicker(streamPing)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(streamWriteWait))
			return
		case <-gone:
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := send(streamEvent{Event: "log_update", Data: entry}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
