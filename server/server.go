// Package server exposes the conversion service over HTTP: multipart
// submission, status and result polling, and a WebSocket update stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hagyro/paper-md/models"
	"github.com/hagyro/paper-md/queue"
)

// Server handles HTTP requests for job management
type Server struct {
	queue     *queue.ConversionQueue
	wsManager *WebSocketManager
	upgrader  websocket.Upgrader
	logger    *logrus.Logger

	httpAddr       string
	maxUploadBytes int64
	httpServer     *http.Server
}

// NewServer creates a new server instance
func NewServer(q *queue.ConversionQueue, httpAddr string, maxUploadBytes int64, logger *logrus.Logger) *Server {
	return &Server{
		queue:     q,
		wsManager: NewWebSocketManager(logger),
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		httpAddr:       httpAddr,
		maxUploadBytes: maxUploadBytes,
	}
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.wsManager.Start(ctx)
	go s.pumpUpdates(ctx)

	s.httpServer = &http.Server{Addr: s.httpAddr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpAddr).Info("HTTP server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler builds the route table, wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /convert", s.handleConvert)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /result/{id}", s.handleResult)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleCancel)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s.cors(mux)
}

// pumpUpdates forwards queue status transitions to WebSocket clients.
func (s *Server) pumpUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.queue.Updates():
			s.wsManager.BroadcastUpdate(snap)
		}
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleConvert accepts a multipart PDF upload and enqueues a job.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	// small allowance on top of the payload limit for multipart framing
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+64*1024)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error":   string(models.ErrInvalidInput),
				"message": "upload exceeds the size limit",
			})
			return
		}
		s.writeError(w, models.NewJobError(models.ErrInvalidInput, "malformed multipart upload"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, models.NewJobError(models.ErrInvalidInput, "missing \"file\" form field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, models.NewJobError(models.ErrInvalidInput, "failed to read upload"))
		return
	}

	jobID, err := s.queue.Submit(header.Filename, data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.queue.Status(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleResult serves the rendered Markdown of a completed job. Jobs
// still in flight answer 202 so clients can keep polling the same URL.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.queue.Result(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Cancel(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts := s.queue.Counts()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"pending":    counts[models.StatePending],
		"processing": counts[models.StateProcessing],
		"completed":  counts[models.StateCompleted],
		"failed":     counts[models.StateFailed] + counts[models.StateTimedOut],
	})
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to upgrade to WebSocket")
		return
	}

	s.wsManager.RegisterClient(conn)

	go func() {
		for {
			// clients only listen; a read error means the peer is gone
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsManager.UnregisterClient(conn)
				return
			}
		}
	}()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps orchestrator error kinds to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var jobErr *models.JobError
	if !errors.As(err, &jobErr) {
		jobErr = models.NewJobError(models.ErrInternal, err.Error())
	}

	status := http.StatusInternalServerError
	switch jobErr.Kind {
	case models.ErrInvalidInput:
		status = http.StatusBadRequest
	case models.ErrNotFound:
		status = http.StatusNotFound
	case models.ErrNotReady:
		status = http.StatusAccepted
	case models.ErrOverloaded:
		status = http.StatusTooManyRequests
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   string(jobErr.Kind),
		"message": jobErr.Message,
	})
}
