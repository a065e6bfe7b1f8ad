package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/chordwatch/internal/config"
	"github.com/audiolibrelab/chordwatch/internal/play"
	"github.com/audiolibrelab/chordwatch/internal/service"
	"github.com/audiolibrelab/chordwatch/internal/session"
)

//go:embed static/index.html
var indexHTML []byte

// Server represents the web remote for ChordWatch
type Server struct {
	service    service.Service
	configFile string
	port       string
	upgrader   websocket.Upgrader
}

// StatusResponse represents the JSON response for status endpoint and the
// websocket feed
type StatusResponse struct {
	session.Snapshot
	Listening     bool   `json:"listening"`
	Recording     bool   `json:"recording"`
	Hint          string `json:"hint"`
	ActiveProfile string `json:"active_profile"`
	PredictURL    string `json:"predict_url"`
}

// ClipsResponse represents the JSON response for clips endpoint
type ClipsResponse struct {
	Clips      []service.ClipInfo `json:"clips"`
	TotalCount int                `json:"total_count"`
	Directory  string             `json:"directory"`
	KeepClips  bool               `json:"keep_clips"`
}

// GenericResponse is returned by action endpoints
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(svc service.Service, configFile string, port string) *Server {
	return &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes builds the HTTP handler
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/listen", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/toggle", s.handleToggle)
		})

		r.Get("/profiles", s.handleProfiles)
		r.Post("/profiles/{name}", s.handleSelectProfile)

		r.Get("/clips", s.handleClips)
		r.Get("/clips/{name}", s.handleClipStream)
	})

	return r
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()

	slog.Info("Starting ChordWatch Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down web server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleIndex serves the main web UI
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(indexHTML)
}

func (s *Server) buildStatus() StatusResponse {
	return s.statusFrom(s.service.Status())
}

func (s *Server) statusFrom(snap session.Snapshot) StatusResponse {
	cfg := s.service.GetConfig()
	return StatusResponse{
		Snapshot:      snap,
		Listening:     snap.Listening(),
		Recording:     snap.Recording(),
		Hint:          snap.Hint(),
		ActiveProfile: cfg.Profile,
		PredictURL:    cfg.PredictURL(),
	}
}

// handleStatus returns the current controller state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.buildStatus())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, "start", s.service.StartListening)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, "stop", func(context.Context) error { return s.service.StopListening() })
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, "toggle", s.service.ToggleListening)
}

// runAction executes a listen action and replies with the resulting status.
// The session outlives the request, so the request context is not used.
func (s *Server) runAction(w http.ResponseWriter, name string, action func(context.Context) error) {
	slog.Debug("Listen action requested", "action", name)

	if err := action(context.Background()); err != nil {
		slog.Error("Listen action failed", "action", name, "error", err)
		msg := s.service.Status().Error
		if msg == "" {
			msg = err.Error()
		}
		sendErrorResponse(w, http.StatusConflict, msg)
		return
	}
	writeJSON(w, http.StatusOK, s.buildStatus())
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := []string{"default"}
	if _, err := os.Stat(s.configFile); err == nil {
		names, err := config.ProfileNames(s.configFile)
		if err != nil {
			slog.Debug("Failed to read config file for profiles", "error", err)
		} else if len(names) > 0 {
			profiles = names
		}
	}
	sort.Strings(profiles)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles":       profiles,
		"active_profile": s.service.GetConfig().Profile,
	})
}

// handleSelectProfile switches profile while idle
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.service.LoadProfile(name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrBusy) {
			status = http.StatusConflict
		}
		sendErrorResponse(w, status, err.Error())
		return
	}

	slog.Info("Profile selected via web UI", "profile", name)
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: fmt.Sprintf("Profile '%s' loaded", name)})
}

// handleClips lists archived clips
func (s *Server) handleClips(w http.ResponseWriter, r *http.Request) {
	clips, err := s.service.ListClips()
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if clips == nil {
		clips = []service.ClipInfo{}
	}

	cfg := s.service.GetConfig()
	writeJSON(w, http.StatusOK, ClipsResponse{
		Clips:      clips,
		TotalCount: len(clips),
		Directory:  cfg.Output.Directory,
		KeepClips:  cfg.Output.KeepClips,
	})
}

// handleClipStream serves an archived clip for the browser player
func (s *Server) handleClipStream(w http.ResponseWriter, r *http.Request) {
	path, err := play.New(s.service.GetConfig()).Resolve(chi.URLParam(r, "name"))
	if err != nil {
		sendErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write JSON response", "error", err)
	}
}

// sendErrorResponse sends a standardized error response
func sendErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, GenericResponse{Success: false, Error: message})
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
