// Package server exposes projects, watershed geometries and map pages over
// HTTP for `hydroai serve`.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"hydroai/internal/analysis"
	"hydroai/internal/dem"
	"hydroai/internal/logging"
	"hydroai/internal/mapview"
	"hydroai/internal/project"
	"hydroai/internal/report"
	"hydroai/internal/watershed"
)

// Server serves the HydroAI HTTP API.
type Server struct {
	projects  *project.Manager
	analyzers []string
	cache     *projectCache
	watcher   *dirWatcher
	logger    *zap.Logger
	mux       *http.ServeMux
}

// New creates a Server. analyzers orders the analysis outputs in project
// responses.
func New(projects *project.Manager, analyzers []string, logger *zap.Logger) *Server {
	s := &Server{
		projects:  projects,
		analyzers: analyzers,
		cache:     &projectCache{load: projects.List},
		logger:    logging.Named(logger, logging.CategoryServer),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/projects", s.handleProjects)
	s.mux.HandleFunc("GET /api/projects/{id}", s.handleProject)
	s.mux.HandleFunc("GET /api/projects/{id}/watershed.geojson", s.handleGeoJSON)
	s.mux.HandleFunc("GET /api/datasets", s.handleDatasets)
	s.mux.HandleFunc("GET /projects/{id}/map", s.handleMap)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Watch keeps the project list cache in sync with the projects directory
// until ctx ends or Close is called.
func (s *Server) Watch(ctx context.Context) error {
	w, err := watchProjects(ctx, s.projects.Base(), s.cache, s.logger)
	if err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// Close stops the directory watcher.
func (s *Server) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readHeaderTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)))
	})
}

// projectJSON is the public view of a project.
type projectJSON struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Description  string                    `json:"description"`
	Status       project.Status            `json:"status"`
	CreatedAt    time.Time                 `json:"created_at"`
	LastModified time.Time                 `json:"last_modified"`
	Outlet       project.Outlet            `json:"outlet"`
	Watershed    *project.WatershedSummary `json:"watershed"`
	AnalyzersRun []string                  `json:"analyzers_run"`
}

func toJSON(id string, m *project.Metadata) projectJSON {
	ws := m.Watershed
	if ws != nil {
		// Local file paths stay on the server.
		c := *ws
		c.Files = nil
		ws = &c
	}
	return projectJSON{
		ID:           id,
		Name:         m.Name,
		Description:  m.Description,
		Status:       m.Status,
		CreatedAt:    m.CreatedAt,
		LastModified: m.LastModified,
		Outlet:       m.Outlet,
		Watershed:    ws,
		AnalyzersRun: m.AnalyzersRun,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// resolve maps the {id} path value to a project directory, writing a 404 on
// failure.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (string, bool) {
	path, err := s.projects.ResolveID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "project not found")
		return "", false
	}
	return path, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": project.Version})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.cache.Get()
	if err != nil {
		s.logger.Error("list projects", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "cannot list projects")
		return
	}
	out := make([]projectJSON, 0, len(list))
	for i := range list {
		out = append(out, toJSON(list[i].ID, &list[i].Metadata))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolve(w, r)
	if !ok {
		return
	}
	meta, err := s.projects.Load(path)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outs, err := analysis.LoadOutputs(path, s.analyzers)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	latest, _ := report.Latest(path)
	if latest != "" {
		latest = filepath.Base(latest)
	}
	s.writeJSON(w, http.StatusOK, struct {
		projectJSON
		Analyses     []*analysis.Output `json:"analyses"`
		LatestReport string             `json:"latest_report,omitempty"`
	}{toJSON(filepath.Base(path), meta), outs, latest})
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolve(w, r)
	if !ok {
		return
	}
	data, err := os.ReadFile(filepath.Join(project.ProcessedDir(path), watershed.GeoJSONFile))
	if errors.Is(err, os.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "watershed not delineated")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dem.Datasets())
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolve(w, r)
	if !ok {
		return
	}
	meta, err := s.projects.Load(path)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	geojson, _ := os.ReadFile(filepath.Join(project.ProcessedDir(path), watershed.GeoJSONFile))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := mapview.Render(w, mapview.ForProject(meta, geojson)); err != nil {
		s.logger.Warn("render map", zap.Error(err))
	}
}

var indexPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<head><meta charset="utf-8"><title>HydroAI</title>
<style>body{font-family:sans-serif;margin:2em}td,th{padding:4px 12px;text-align:left}</style>
</head>
<body>
<h1>HydroAI</h1>
{{if .}}<table>
<tr><th>Projeto</th><th>Situação</th><th>Área (km²)</th><th>Atualizado</th><th></th></tr>
{{range .}}<tr>
<td>{{.Name}}</td><td>{{.Status}}</td>
<td>{{with .Watershed}}{{printf "%.2f" .AreaKm2}}{{else}}-{{end}}</td>
<td>{{.LastModified.Format "02/01/2006 15:04"}}</td>
<td><a href="/projects/{{.ID}}/map">mapa</a></td>
</tr>
{{end}}</table>{{else}}<p>Nenhum projeto encontrado.</p>{{end}}
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	list, err := s.cache.Get()
	if err != nil {
		http.Error(w, "cannot list projects", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexPage.Execute(w, list); err != nil {
		s.logger.Warn("render index", zap.Error(err))
	}
}
