package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"media-shrink-go/internal/compressor"
	"media-shrink-go/internal/config"
	"media-shrink-go/internal/installer"
	"media-shrink-go/internal/statistics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server exposes compression over an HTTP API with websocket progress events.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	set        *compressor.Set
	installer  *installer.Installer
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Current job state
	jobMutex     sync.RWMutex
	isRunning    bool
	currentJobID string
	currentStats *statistics.Statistics
	lastResults  []compressor.Result
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CompressRequest struct {
	Path            string  `json:"path"`
	OutputDir       string  `json:"output_dir,omitempty"`
	Quality         int     `json:"quality,omitempty"`
	TargetReduction float64 `json:"target_reduction,omitempty"`
	DryRun          bool    `json:"dry_run"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer returns a Server wired to the given backend set and installer.
func NewServer(cfg *config.Config, log *logrus.Logger, set *compressor.Set, inst *installer.Installer) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		set:       set,
		installer: inst,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/tools", s.handleTools).Methods("GET")
	api.HandleFunc("/results", s.handleResults).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start begins serving on the given port. Blocks until the server stops.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router returns the HTTP handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jobMutex.RLock()
	running := s.isRunning
	jobID := s.currentJobID
	stats := s.currentStats
	s.jobMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = map[string]interface{}{
			"summary":     stats.GetSummary(),
			"processed":   stats.GetFilesProcessed(),
			"bytes_saved": stats.GetBytesSaved(),
		}
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"job_id":     jobID,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}

	if _, err := os.Stat(req.Path); os.IsNotExist(err) {
		s.writeError(w, "Path does not exist", http.StatusBadRequest)
		return
	}

	s.jobMutex.Lock()
	if s.isRunning {
		s.jobMutex.Unlock()
		s.writeError(w, "Compression already in progress", http.StatusConflict)
		return
	}
	jobID := uuid.NewString()
	s.isRunning = true
	s.currentJobID = jobID
	s.currentStats = statistics.NewStatistics()
	s.jobMutex.Unlock()

	go s.runCompressAsync(jobID, req)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Compression started",
		Data:    map[string]interface{}{"job_id": jobID},
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	statuses := s.installer.Check(s.cfg.Install.Tools)
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    statuses,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.jobMutex.RLock()
	results := s.lastResults
	jobID := s.currentJobID
	s.jobMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"job_id":  jobID,
			"results": resultsPayload(results),
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) runCompressAsync(jobID string, req CompressRequest) {
	s.broadcastWSMessage("compress_started", map[string]interface{}{
		"job_id": jobID,
		"path":   req.Path,
	})

	quality := req.Quality
	if quality <= 0 {
		quality = s.cfg.Quality
	}

	s.jobMutex.RLock()
	stats := s.currentStats
	s.jobMutex.RUnlock()

	batch := compressor.NewBatch(s.set, s.log, stats)
	results, err := batch.Run(context.Background(), compressor.BatchParams{
		InputPaths:      []string{req.Path},
		OutputDir:       req.OutputDir,
		Quality:         quality,
		TargetReduction: req.TargetReduction,
		Workers:         s.cfg.Batch.WorkerThreads,
		DryRun:          req.DryRun,
	}, func(res compressor.Result) {
		s.broadcastWSMessage("file_done", map[string]interface{}{
			"job_id":  jobID,
			"file":    res.InputPath,
			"action":  res.Action,
			"saved":   res.PercentageSaved,
			"success": res.Success,
		})
	})
	stats.Finalize()

	s.jobMutex.Lock()
	s.isRunning = false
	s.lastResults = results
	s.jobMutex.Unlock()

	if err != nil {
		s.broadcastWSMessage("compress_error", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	} else {
		s.broadcastWSMessage("compress_completed", map[string]interface{}{
			"job_id":     jobID,
			"statistics": stats.GetSummary(),
		})
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

// resultsPayload flattens results for JSON without exposing internal fields.
func resultsPayload(results []compressor.Result) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]interface{}{
			"input":           r.InputPath,
			"output":          r.OutputPath,
			"original_size":   r.OriginalSize,
			"compressed_size": r.CompressedSize,
			"saved_percent":   r.PercentageSaved,
			"action":          r.Action,
			"message":         r.Message,
			"success":         r.Success,
		})
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
