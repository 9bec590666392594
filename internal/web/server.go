// Package web serves the browser pages and the LINE webhook.
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"rag-portal/internal/db"
	"rag-portal/internal/did"
	"rag-portal/internal/estate"
	"rag-portal/internal/models"
	"rag-portal/internal/rag"
	"rag-portal/internal/usecase"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = []string{"index.html", "qa.html", "chat.html", "line.html", "did.html", "estate.html", "error.html"}

var errNotConfigured = errors.New("feature is not configured")

type Users interface {
	GetOrCreate(ctx context.Context, username string) (*db.User, error)
}

type ChatLogs interface {
	BulkInsert(ctx context.Context, logs []*db.ChatLog) error
	FindByUser(ctx context.Context, userID int64) ([]db.ChatLog, error)
	FindThread(ctx context.Context, userID int64, thread string) ([]db.ChatLog, error)
}

type QA interface {
	Query(ctx context.Context, req rag.Request) (*models.PromptResponse, error)
}

type Avatar interface {
	CreateStream(ctx context.Context, sourceURL string) (*did.StreamDescriptor, error)
	StartStream(ctx context.Context, streamID, sessionID, answerSDP string) (*did.StatusResponse, error)
	SendTalk(ctx context.Context, streamID, sessionID, text string) (*did.StatusResponse, error)
	DeleteStream(ctx context.Context, streamID, sessionID string) error
}

type Estate interface {
	PostEstateInfo(ctx context.Context, latitude, longitude float64) (*estate.EstateResponse, error)
}

// Options wires the server. Nil features render a "not configured" page.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	DefaultUser  string
	DocumentPath string
	MediaRoot    string
	DIDSourceURL string

	Users       Users
	ChatLogs    ChatLogs
	QA          QA
	Dispatcher  *usecase.Dispatcher
	LineWebhook http.Handler
	Avatar      Avatar
	Estate      Estate
}

type Server struct {
	opts      Options
	templates map[string]*template.Template
	md        goldmark.Markdown
}

func NewServer(opts Options) (*Server, error) {
	if opts.Users == nil || opts.ChatLogs == nil {
		return nil, errors.New("web: users and chat logs are required")
	}
	if opts.DefaultUser == "" {
		opts.DefaultUser = "admin"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 300 * time.Second
	}

	s := &Server{
		opts:      opts,
		templates: make(map[string]*template.Template, len(pages)),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
	for _, page := range pages {
		tmpl, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("web: parse %s: %w", page, err)
		}
		s.templates[page] = tmpl
	}
	return s, nil
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /qa/", s.handleQAPage)
	mux.HandleFunc("POST /qa/", s.handleQAPost)
	mux.HandleFunc("GET /chat/", s.handleChatPage)
	mux.HandleFunc("POST /chat/", s.handleChatPost)
	mux.HandleFunc("GET /line/", s.handleLinePage)
	mux.HandleFunc("POST /line/", s.handleLinePost)
	if s.opts.LineWebhook != nil {
		mux.Handle("POST /line/webhook/", s.opts.LineWebhook)
	}

	mux.HandleFunc("GET /did/", s.handleDIDPage)
	mux.HandleFunc("POST /did/", s.handleDIDPost)
	mux.HandleFunc("POST /did/streams/{id}/sdp", s.handleDIDStart)
	mux.HandleFunc("POST /did/streams/{id}/talk", s.handleDIDTalk)
	mux.HandleFunc("DELETE /did/streams/{id}", s.handleDIDDelete)

	mux.HandleFunc("GET /estate/", s.handleEstatePage)
	mux.HandleFunc("POST /estate/", s.handleEstatePost)

	if s.opts.MediaRoot != "" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(filesOnly{http.Dir(s.opts.MediaRoot)})))
	}
	return loggingMiddleware(mux)
}

// filesOnly hides directories so the media route never lists them.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

// Start serves until ctx is done and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().Str("addr", s.opts.Addr).Msg("Web server starting")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) render(w http.ResponseWriter, status int, page string, data any) {
	var buf bytes.Buffer
	if err := s.templates[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Error().Err(err).Str("page", page).Msg("Template execution failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		log.Warn().Err(err).Int("status", status).Msg("Request rejected")
	}
	s.render(w, status, "error.html", map[string]any{
		"Title":   http.StatusText(status),
		"Status":  status,
		"Code":    codeOf(err),
		"Message": err.Error(),
	})
}

func statusOf(err error) int {
	if errors.Is(err, errNotConfigured) {
		return http.StatusServiceUnavailable
	}
	switch usecase.CodeOf(err) {
	case usecase.CodeInvalidInput:
		return http.StatusBadRequest
	case usecase.CodeNotFound:
		return http.StatusNotFound
	case usecase.CodeUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func codeOf(err error) string {
	if errors.Is(err, errNotConfigured) {
		return "NOT_CONFIGURED"
	}
	return string(usecase.CodeOf(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": codeOf(err), "message": err.Error()})
}

// logView is one chat log row ready for a template.
type logView struct {
	Thread    string
	Role      string
	Message   template.HTML
	FileURL   string
	FileKind  string
	CreatedAt time.Time
}

func (s *Server) views(logs []db.ChatLog) []logView {
	out := make([]logView, 0, len(logs))
	for _, l := range logs {
		if l.Invisible {
			continue
		}
		v := logView{Thread: l.Thread, Role: l.Role, CreatedAt: l.CreatedAt}
		if l.Role == models.RoleAssistant {
			v.Message = s.markdown(l.Message)
		} else {
			v.Message = template.HTML(template.HTMLEscapeString(l.Message))
		}
		if f := l.File(); f != "" {
			v.FileURL = "/media/" + strings.TrimLeft(path.Clean("/"+f), "/")
			v.FileKind = fileKind(f)
		}
		out = append(out, v)
	}
	return out
}

// markdown renders model output. Raw HTML in the source is dropped.
func (s *Server) markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func fileKind(p string) string {
	ext := strings.ToLower(path.Ext(p))
	for _, a := range db.AudioExtensions {
		if ext == a {
			return "audio"
		}
	}
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return "image"
	}
	return "file"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
