package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/MichaLL27/shipfix/internal/manifest"
	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/orchestrator"
	"github.com/MichaLL27/shipfix/internal/pr"
	"github.com/MichaLL27/shipfix/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store store.Store
	orch  *orchestrator.Orchestrator
}

// NewServer creates a new API server.
func NewServer(s store.Store, orch *orchestrator.Orchestrator) *Server {
	return &Server{store: s, orch: orch}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects", s.createProject)
	mux.HandleFunc("GET /api/v1/projects/{id}", s.getProject)
	mux.HandleFunc("PUT /api/v1/projects/{id}", s.updateProject)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", s.deleteProject)
	mux.HandleFunc("PUT /api/v1/projects/{id}/env", s.updateEnv)

	mux.HandleFunc("POST /api/v1/projects/{id}/autofix", s.transition(orchestrator.ActionAutoFix))
	mux.HandleFunc("POST /api/v1/projects/{id}/qa", s.transition(orchestrator.ActionRunQA))
	mux.HandleFunc("POST /api/v1/projects/{id}/deploy", s.transition(orchestrator.ActionDeploy))

	mux.HandleFunc("GET /api/v1/projects/{id}/prs", s.listPullRequests)
	mux.HandleFunc("GET /api/v1/prs/{id}", s.getPullRequest)
	mux.HandleFunc("POST /api/v1/prs/{id}/merge", s.mergePullRequest)
	mux.HandleFunc("POST /api/v1/prs/{id}/close", s.closePullRequest)

	mux.HandleFunc("GET /api/v1/status", s.statusOverview)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// patchString applies a string value from a JSON patch map to the target if the key is present and non-empty.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok && str != "" {
			*target = str
		}
	}
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	var (
		projects []*models.Project
		err      error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		projects, err = s.store.ListProjectsByStatus(r.Context(), models.ProjectStatus(status))
	} else {
		projects, err = s.store.ListProjects(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if p.Name == "" || p.NormalizedPath == "" {
		writeError(w, http.StatusBadRequest, "name and normalizedPath are required")
		return
	}

	p.Status = models.ProjectStatusRegistered
	p.AutoFixStatus = models.AutoFixStatusNone
	if err := manifest.Prepare(&p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateProject(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Selectively merge only keys present in the patch with non-empty values.
	// Empty strings are treated as "not provided" to avoid wiping existing data.
	patchString(patch, "Name", &existing.Name)
	patchString(patch, "InstallCmd", &existing.InstallCmd)
	patchString(patch, "BuildCmd", &existing.BuildCmd)
	patchString(patch, "TestCmd", &existing.TestCmd)
	patchString(patch, "StartCmd", &existing.StartCmd)

	if err := s.store.UpdateProject(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// deleteProject removes the record and cascades to filesystem artifacts: the
// normalized folder and every staged patch folder.
func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	prs, err := s.store.ListPullRequests(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, p := range prs {
		if p.PatchPath != "" {
			os.RemoveAll(p.PatchPath)
		}
	}
	if project.NormalizedPath != "" {
		os.RemoveAll(project.NormalizedPath)
	}

	if err := s.store.DeleteProject(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateEnv(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var vars map[string]models.EnvVar
	if err := json.NewDecoder(r.Body).Decode(&vars); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if project.EnvVars == nil {
		project.EnvVars = make(map[string]models.EnvVar)
	}
	for k, v := range vars {
		project.EnvVars[k] = v
	}

	if err := s.store.UpdateProject(r.Context(), project); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// --- Lifecycle transitions ---

// transition returns a handler that requests the given lifecycle action and
// answers 202 Accepted: the terminal state arrives asynchronously.
func (s *Server) transition(action orchestrator.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.orch.Request(r.Context(), id, action); err != nil {
			var stateErr *orchestrator.InvalidStateError
			if errors.As(err, &stateErr) {
				writeError(w, http.StatusConflict, stateErr.Error())
				return
			}
			if strings.Contains(err.Error(), "not found") {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		project, err := s.store.GetProject(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, project)
	}
}

// --- Pull requests ---

func (s *Server) listPullRequests(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prs, err := s.store.ListPullRequests(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prs)
}

func (s *Server) getPullRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pullReq, err := s.store.GetPullRequest(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pullReq)
}

func (s *Server) mergePullRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	merged, err := pr.Merge(r.Context(), s.store, id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if strings.Contains(err.Error(), "already") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) closePullRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	closed, err := pr.Close(r.Context(), s.store, id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if strings.Contains(err.Error(), "already") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, closed)
}

// --- Status ---

func (s *Server) statusOverview(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	counts := make(map[models.ProjectStatus]int)
	deployed := 0
	for _, p := range projects {
		counts[p.Status]++
		if p.Status == models.ProjectStatusDeployed {
			deployed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    len(projects),
		"deployed": deployed,
		"byStatus": counts,
	})
}
