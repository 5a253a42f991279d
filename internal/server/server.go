package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/finbrief/finbrief/internal/brief"
	"github.com/finbrief/finbrief/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP presentation layer: brief history, brief detail, and
// on-demand generation. Briefs with warnings render distinctly from hard
// failures.
type Server struct {
	db           *store.DB
	orchestrator *brief.Orchestrator
	pages        map[string]*template.Template
	mux          *http.ServeMux
}

// New creates a new Server.
func New(db *store.DB, orchestrator *brief.Orchestrator) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"join":     func(s []string) string { return strings.Join(s, ", ") },
	}

	// Parse base template first, then clone it per page so each page gets
	// its own {{define "content"}} and {{define "title"}}.
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	pageNames := []string{"index.html", "brief.html", "error.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, orchestrator: orchestrator, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/brief/", s.handleBrief)
	s.mux.HandleFunc("/generate", s.handleGenerate)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	briefs, err := s.db.ListBriefs(50)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Briefs": briefs,
	})
}

func (s *Server) handleBrief(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/brief/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	stored, err := s.db.GetBrief(id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if stored == nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "brief.html", map[string]any{
		"Stored": stored,
	})
}

// handleGenerate runs the brief pipeline for the submitted form and archives
// the result. Fatal failures render the error page; a degraded brief renders
// normally with its warnings.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if s.orchestrator == nil {
		s.renderError(w, "Brief generation is not configured on this server.")
		return
	}

	req := brief.Request{
		Tickers:            splitInput(r.FormValue("tickers")),
		Topics:             splitInput(r.FormValue("topics")),
		MaxArticlesPerTerm: 3,
		Comprehensive:      r.FormValue("comprehensive") == "on",
	}
	if n, err := strconv.Atoi(r.FormValue("max_articles")); err == nil && n > 0 {
		req.MaxArticlesPerTerm = n
	}

	result, err := s.orchestrator.GenerateBrief(r.Context(), req)
	if err != nil {
		if f := brief.AsFailure(err); f != nil {
			s.renderError(w, f.Message)
			return
		}
		s.renderError(w, "Brief generation failed.")
		return
	}

	id, err := s.db.InsertBrief(req.Tickers, req.Topics, result)
	if err != nil {
		log.Printf("Failed to archive brief: %v", err)
		s.renderError(w, "Brief was generated but could not be saved.")
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/brief/%d", id), http.StatusFound)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, message string) {
	s.render(w, "error.html", map[string]any{
		"Message": message,
	})
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func splitInput(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Serve starts the HTTP server on the given port.
func Serve(db *store.DB, orchestrator *brief.Orchestrator, port int) error {
	srv, err := New(db, orchestrator)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
