package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/cmakesyncd/internal/config"
	"github.com/schaermu/cmakesyncd/internal/manifest"
)

// SignatureHeader carries the HMAC-SHA256 of the request body
const SignatureHeader = "X-Cmakesync-Signature-256"

const maxBodyBytes = 1 << 20 // 1 MB

// Dispatcher performs manifest operations for incoming requests
type Dispatcher interface {
	AddFile(ctx context.Context, path string) (manifest.Result, error)
	RemoveFile(ctx context.Context, path string) (manifest.Result, error)
	HandleCreated(ctx context.Context, paths []string)
	HandleDeleted(ctx context.Context, paths []string)
}

// FileEvent is a batch of host notifications
type FileEvent struct {
	Created []string `json:"created"`
	Deleted []string `json:"deleted"`
}

// CommandRequest targets one file with add or remove
type CommandRequest struct {
	File string `json:"file"`
}

// CommandResponse reports the outcome of a command
type CommandResponse struct {
	Result manifest.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Server implements the editor event HTTP server
type Server struct {
	cfg        *config.Config
	dispatcher Dispatcher
	logger     *slog.Logger
	secret     []byte

	// events run detached from the request and are cancelled on shutdown
	eventsCtx    context.Context
	cancelEvents context.CancelFunc
	events       sync.WaitGroup
}

// NewServer creates a new event server
func NewServer(cfg *config.Config, dispatcher Dispatcher, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
	}

	if cfg.SignatureRequired() {
		secret, err := os.ReadFile(cfg.Serve.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read webhook secret: %w", err)
		}

		// Trim any whitespace/newlines from secret
		s.secret = []byte(strings.TrimSpace(string(secret)))
		if len(s.secret) == 0 {
			return nil, fmt.Errorf("webhook secret file %s is empty", cfg.Serve.SecretFile)
		}
	} else {
		logger.Warn("serve.secret_file not set, requests are not authenticated")
	}

	s.eventsCtx, s.cancelEvents = context.WithCancel(context.Background())
	return s, nil
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /events", s.handleEvents)
	mux.HandleFunc("POST /commands/add", s.handleCommand(s.dispatcher.AddFile))
	mux.HandleFunc("POST /commands/remove", s.handleCommand(s.dispatcher.RemoveFile))
	return mux
}

// Start serves on ln, or on the configured address when ln is nil, until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Serve.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Serve.ListenAddr, err)
		}
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("event server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down event server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		s.Close()
		return err
	case err := <-errCh:
		s.Close()
		return err
	}
}

// Close dismisses pending prompts and waits for running events to finish
func (s *Server) Close() {
	s.cancelEvents()
	s.events.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ok\n")
}

// handleEvents accepts created/deleted notifications and processes them in
// the background, since created files may wait on a user prompt
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var event FileEvent
	if !s.decode(w, r, &event) {
		return
	}

	created := absolutePaths(event.Created)
	deleted := absolutePaths(event.Deleted)
	if len(created) != len(event.Created) || len(deleted) != len(event.Deleted) {
		s.logger.Warn("rejecting event with relative paths")
		http.Error(w, "Paths must be absolute", http.StatusBadRequest)
		return
	}

	s.logger.Info("event accepted", "created", len(created), "deleted", len(deleted))

	s.events.Add(1)
	go func() {
		defer s.events.Done()
		if len(deleted) > 0 {
			s.dispatcher.HandleDeleted(s.eventsCtx, deleted)
		}
		if len(created) > 0 {
			s.dispatcher.HandleCreated(s.eventsCtx, created)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Event accepted\n")
}

func (s *Server) handleCommand(op func(context.Context, string) (manifest.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CommandRequest
		if !s.decode(w, r, &req) {
			return
		}

		if req.File == "" || !filepath.IsAbs(req.File) {
			writeJSON(w, http.StatusBadRequest, CommandResponse{Error: "file must be an absolute path"})
			return
		}

		result, err := op(r.Context(), req.File)
		if err != nil {
			s.logger.Error("command failed", "path", r.URL.Path, "file", req.File, "error", err)
			status := http.StatusInternalServerError
			if errors.Is(err, manifest.ErrMarkerNotFound) {
				status = http.StatusConflict
			}
			writeJSON(w, status, CommandResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, CommandResponse{Result: result})
	}
}

// decode validates and parses a JSON request body, writing the error response
// itself when it returns false
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	// Check content type
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return false
	}

	// Read body
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return false
	}
	defer func() {
		_ = r.Body.Close()
	}()

	// Verify signature
	if s.secret != nil && !s.verifySignature(body, r.Header.Get(SignatureHeader)) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		s.logger.Error("failed to parse request payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}

// verifySignature verifies the request signature (sha256=<hex>)
func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	// Constant-time comparison
	return hmac.Equal([]byte(signature), []byte(Sign(s.secret, body)))
}

// Sign returns the hex HMAC-SHA256 of body, without the sha256= prefix
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func absolutePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if filepath.IsAbs(p) {
			out = append(out, filepath.Clean(p))
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
