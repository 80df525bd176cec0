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

	"github.com/geniehealth/dyk/internal/database"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for browsing pipeline runs.
type Server struct {
	db    *database.DB
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"score": func(f *float64) string {
			if f == nil {
				return "-"
			}
			return strconv.FormatFloat(*f, 'f', 1, 64)
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "run.html", "insights.html"}
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

	s := &Server{db: db, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/runs/", s.handleRun)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	runs, err := s.db.GetRecentRuns(50)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	counts, _ := s.db.GetCounts()

	s.render(w, "index.html", map[string]any{
		"Runs":   runs,
		"Counts": counts,
	})
}

// handleRun serves /runs/{id} and /runs/{id}/insights.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/runs/")
	if path == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 2 {
		if parts[1] != "insights" {
			http.NotFound(w, r)
			return
		}
		s.renderInsights(w, id)
		return
	}

	run, _ := s.db.GetRun(id)
	var passed []database.Variation
	if run != nil {
		passed, _ = s.db.GetPassedVariationsForRun(id)
	}

	s.render(w, "run.html", map[string]any{
		"RunID":  id,
		"Run":    run,
		"Passed": passed,
	})
}

func (s *Server) renderInsights(w http.ResponseWriter, id int64) {
	run, _ := s.db.GetRun(id)
	var groups []insightGroup
	if run != nil {
		insights, _ := s.db.GetInsightsForRun(id)
		groups = groupInsights(insights)
	}

	s.render(w, "insights.html", map[string]any{
		"RunID":  id,
		"Run":    run,
		"Groups": groups,
	})
}

// insightGroup is one surviving insight with the near-duplicates that
// collapsed into it.
type insightGroup struct {
	Survivor   database.Insight
	Duplicates []database.Insight
}

func groupInsights(insights []database.Insight) []insightGroup {
	index := make(map[string]int, len(insights))
	var groups []insightGroup
	for _, ins := range insights {
		if ins.DuplicateOf == nil {
			index[ins.InsightID] = len(groups)
			groups = append(groups, insightGroup{Survivor: ins})
		}
	}
	for _, ins := range insights {
		if ins.DuplicateOf == nil {
			continue
		}
		if i, ok := index[*ins.DuplicateOf]; ok {
			groups[i].Duplicates = append(groups[i].Duplicates, ins)
		}
	}
	return groups
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

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, port int) error {
	srv, err := New(db)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
