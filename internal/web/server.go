package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"image-optimizer-go/internal/archive"
	"image-optimizer-go/internal/batch"
	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/config"
	"image-optimizer-go/internal/naming"
	"image-optimizer-go/internal/pipeline"
	"image-optimizer-go/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Services are the components the server exposes.
type Services struct {
	Registry     *batch.Registry
	Orchestrator *pipeline.Orchestrator
	Exporter     *archive.Exporter
	// Namer is optional; without it record naming answers 503.
	Namer *naming.Coordinator
	// NamingService serves POST /api/name. Optional.
	NamingService http.Handler
}

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	svc        Services
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	unsubscribe func()

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	currentStats   *statistics.Statistics
	cancelRun      context.CancelFunc
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RecordView is a record as shown to clients.
type RecordView struct {
	batch.Record
	PreviewURL   string  `json:"previewUrl"`
	ResultURL    string  `json:"resultUrl,omitempty"`
	PercentSaved float64 `json:"percentSaved"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

type UploadResult struct {
	Added    []RecordView `json:"added"`
	Rejected []string     `json:"rejected,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, svc Services) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		svc:       svc,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.Server.AllowedOrigins),
		},
	}

	s.unsubscribe = svc.Registry.Subscribe(s.handleRegistryEvent)
	s.setupRoutes()
	return s
}

// Handler returns the router serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.router
}

// LogHook forwards pipeline log lines to WebSocket clients.
func (s *Server) LogHook(level, message string) {
	s.broadcastWSMessage("log", map[string]interface{}{
		"level":   level,
		"message": message,
	})
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/images", s.handleUpload).Methods("POST")
	api.HandleFunc("/images", s.handleListImages).Methods("GET")
	api.HandleFunc("/images", s.handleClearImages).Methods("DELETE")
	api.HandleFunc("/images/{id}", s.handleRemoveImage).Methods("DELETE")
	api.HandleFunc("/images/{id}/reset", s.handleResetImage).Methods("POST")
	api.HandleFunc("/images/{id}/process", s.handleProcessImage).Methods("POST")
	api.HandleFunc("/images/{id}/name", s.handleSuggestName).Methods("POST")
	api.HandleFunc("/images/{id}/name", s.handleRenameImage).Methods("PUT")
	api.HandleFunc("/process", s.handleProcess).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/archive", s.handleArchive).Methods("GET")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handlePutSettings).Methods("PUT")
	api.HandleFunc("/formats", s.handleFormats).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	// The naming service checks its own method.
	if s.svc.NamingService != nil {
		api.Handle("/name", s.svc.NamingService)
	}

	s.router.HandleFunc("/blob/{id}", s.handleBlob).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.operationMutex.Unlock()

	s.unsubscribe()

	s.wsMutex.Lock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) view(rec batch.Record) RecordView {
	v := RecordView{
		Record:     rec,
		PreviewURL: "/blob/" + rec.Preview.ID(),
	}
	if rec.HasResult() {
		v.ResultURL = "/blob/" + rec.ResultHandle.ID()
		v.PercentSaved = statistics.PercentSaved(rec.SourceSize, rec.ResultSize)
	}
	return v
}

func (s *Server) views(records []batch.Record) []RecordView {
	out := make([]RecordView, len(records))
	for i, rec := range records {
		out[i] = s.view(rec)
	}
	return out
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Server.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, "Invalid multipart upload", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.writeError(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	var inputs []batch.Input
	var rejected []string
	for _, fh := range files {
		mediaType := codec.Normalize(fh.Header.Get("Content-Type"))
		if !codec.IsImage(mediaType) {
			mediaType = codec.MediaTypeForName(fh.Filename)
		}
		if mediaType == "" {
			rejected = append(rejected, fh.Filename)
			continue
		}

		f, err := fh.Open()
		if err != nil {
			s.log.WithError(err).Warnf("Failed to open upload %s", fh.Filename)
			rejected = append(rejected, fh.Filename)
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.log.WithError(err).Warnf("Failed to read upload %s", fh.Filename)
			rejected = append(rejected, fh.Filename)
			continue
		}
		inputs = append(inputs, batch.Input{Name: fh.Filename, MediaType: mediaType, Data: data})
	}

	ids := s.svc.Registry.Add(inputs...)
	added := make([]RecordView, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.svc.Registry.Get(id); ok {
			added = append(added, s.view(rec))
		}
	}

	s.log.Infof("Accepted %d images, rejected %d", len(added), len(rejected))
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%d images added", len(added)),
		Data:    UploadResult{Added: added, Rejected: rejected},
	})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	renaming := ""
	if s.svc.Namer != nil {
		renaming = s.svc.Namer.Renaming()
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"records":  s.views(s.svc.Registry.Snapshot()),
			"renaming": renaming,
		},
	})
}

func (s *Server) handleClearImages(w http.ResponseWriter, r *http.Request) {
	s.svc.Registry.Clear()
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Batch cleared",
	})
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.svc.Registry.Remove(id) {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Image removed",
	})
}

func (s *Server) handleResetImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.svc.Registry.Get(id); !ok {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	if !s.svc.Registry.Reset(id) {
		s.writeError(w, "Only completed or failed images can be reset", http.StatusConflict)
		return
	}
	rec, _ := s.svc.Registry.Get(id)
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.view(rec),
	})
}

func (s *Server) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.svc.Orchestrator.ProcessOne(r.Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	case errors.Is(err, pipeline.ErrNotRunnable):
		s.writeError(w, "Image is not pending or failed", http.StatusConflict)
		return
	case errors.Is(err, pipeline.ErrBatchRunning):
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	case err != nil:
		s.writeError(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	rec, ok := s.svc.Registry.Get(id)
	if !ok {
		s.writeError(w, "Image removed during processing", http.StatusGone)
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.view(rec),
	})
}

func (s *Server) handleSuggestName(w http.ResponseWriter, r *http.Request) {
	if s.svc.Namer == nil {
		s.writeError(w, "Name suggestions are not enabled", http.StatusServiceUnavailable)
		return
	}

	id := mux.Vars(r)["id"]
	if _, ok := s.svc.Registry.Get(id); !ok {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}

	name, ok := s.svc.Namer.SuggestName(r.Context(), id)
	if !ok {
		s.writeError(w, "Name suggestion failed", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    map[string]string{"name": name},
	})
}

func (s *Server) handleRenameImage(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		s.writeError(w, "Name is required", http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	if !s.svc.Registry.Rename(id, req.Name) {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	rec, _ := s.svc.Registry.Get(id)
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.view(rec),
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.Lock()
	if s.isRunning || s.svc.Orchestrator.IsRunning() {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.isRunning = true
	s.cancelRun = cancel
	s.operationMutex.Unlock()

	go s.runBatchAsync(ctx)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Batch started",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.operationMutex.Unlock()

	s.broadcastWSMessage("operation_stopped", map[string]interface{}{
		"message": "Operation stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Operation stopped",
	})
}

func (s *Server) runBatchAsync(ctx context.Context) {
	defer func() {
		s.operationMutex.Lock()
		s.isRunning = false
		s.cancelRun = nil
		s.operationMutex.Unlock()
	}()

	s.broadcastWSMessage("batch_started", map[string]interface{}{
		"records": s.svc.Registry.Len(),
	})

	stats, err := s.svc.Orchestrator.RunBatch(ctx)
	if stats != nil {
		s.operationMutex.Lock()
		s.currentStats = stats
		s.operationMutex.Unlock()
	}

	if errors.Is(err, context.Canceled) {
		s.broadcastWSMessage("batch_stopped", map[string]interface{}{
			"statistics": stats.Snapshot(),
			"summary":    stats.GetSummary(),
		})
		return
	}
	if err != nil {
		s.broadcastWSMessage("batch_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.broadcastWSMessage("batch_completed", map[string]interface{}{
		"statistics": stats.Snapshot(),
		"summary":    stats.GetSummary(),
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	data, ok, err := s.svc.Exporter.Build(s.svc.Registry.Snapshot())
	if err != nil {
		s.log.WithError(err).Error("Failed to build archive")
		s.writeError(w, "Failed to build archive", http.StatusInternalServerError)
		return
	}
	if !ok {
		s.writeError(w, "No completed images to download", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.cfg.Archive.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.svc.Registry.Settings(),
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings batch.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	format, err := batch.ParseFormat(string(settings.TargetFormat))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	settings.TargetFormat = format

	if err := s.svc.Registry.SetSettings(settings); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.broadcastWSMessage("settings_updated", settings)
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    settings,
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    config.GetAvailableFormats(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	created, revoked := s.svc.Registry.Handles().Counts()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"records":    s.svc.Registry.Counts(),
			"naming":     s.svc.Namer != nil,
			"statistics": statsData,
			"handles": map[string]interface{}{
				"outstanding": s.svc.Registry.Handles().Outstanding(),
				"created":     created,
				"revoked":     revoked,
			},
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  stats.GetSummary(),
			"counters": stats.Snapshot(),
			"errors":   stats.GetErrorSummary(),
		},
	})
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	blob, ok := s.svc.Registry.Handles().ResolveID(mux.Vars(r)["id"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", blob.MediaType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Write(blob.Data)
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

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) handleRegistryEvent(ev batch.Event) {
	data := map[string]interface{}{}
	if ev.Kind != batch.EventCleared {
		data["record"] = s.view(ev.Record)
	}
	s.broadcastWSMessage("record_"+string(ev.Kind), data)
}

// broadcastWSMessage writes under wsMutex: a websocket.Conn supports a
// single concurrent writer.
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

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
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

// checkOrigin allows every origin when allowed is empty.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
