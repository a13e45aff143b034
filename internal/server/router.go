package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the API routes to their handler methods.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/prompts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListPrompts(w, r)
		case http.MethodPost:
			h.CreatePrompt(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/prompts/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/api/prompts/")
		if name == "" || strings.Contains(name, "/") {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.GetPrompt(w, r, name)
		case http.MethodDelete:
			h.DeletePrompt(w, r, name)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/schemas", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListSchemas(w, r)
		case http.MethodPost:
			h.CreateSchema(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/schemas/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/api/schemas/")
		if name == "" || strings.Contains(name, "/") {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.GetSchema(w, r, name)
		case http.MethodDelete:
			h.DeleteSchema(w, r, name)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/projects", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListProjects(w, r)
		case http.MethodPost:
			h.CreateProject(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/projects/", routeProject(h))

	return mux
}

// routeProject dispatches the project subtree:
//
//	/api/projects/{name}
//	/api/projects/{name}/files
//	/api/projects/{name}/files/{file}
//	/api/projects/{name}/files/{file}/process
//	/api/projects/{name}/files/{file}/result
//	/api/projects/{name}/jobs
//	/api/projects/{name}/jobs/{id}/refresh
//	/api/projects/{name}/jobs/{id}/collect
func routeProject(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		project := parts[0]

		switch len(parts) {
		case 1:
			switch r.Method {
			case http.MethodGet:
				h.GetProject(w, r, project)
			case http.MethodDelete:
				h.DeleteProject(w, r, project)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
		case 2:
			switch parts[1] {
			case "files":
				switch r.Method {
				case http.MethodGet:
					h.ListFiles(w, r, project)
				case http.MethodPost:
					h.UploadFile(w, r, project)
				default:
					w.WriteHeader(http.StatusMethodNotAllowed)
				}
			case "jobs":
				if r.Method != http.MethodGet {
					w.WriteHeader(http.StatusMethodNotAllowed)
					return
				}
				h.ListJobs(w, r, project)
			default:
				http.NotFound(w, r)
			}
		case 3:
			if parts[1] != "files" {
				http.NotFound(w, r)
				return
			}
			if r.Method != http.MethodDelete {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.RemoveFile(w, r, project, parts[2])
		case 4:
			switch parts[1] {
			case "files":
				switch {
				case parts[3] == "process" && r.Method == http.MethodPost:
					h.ProcessFile(w, r, project, parts[2])
				case parts[3] == "result" && r.Method == http.MethodGet:
					h.GetResult(w, r, project, parts[2])
				case parts[3] == "process" || parts[3] == "result":
					w.WriteHeader(http.StatusMethodNotAllowed)
				default:
					http.NotFound(w, r)
				}
			case "jobs":
				switch {
				case parts[3] == "refresh" && r.Method == http.MethodPost:
					h.RefreshJob(w, r, project, parts[2])
				case parts[3] == "collect" && r.Method == http.MethodPost:
					h.CollectJob(w, r, project, parts[2])
				case parts[3] == "refresh" || parts[3] == "collect":
					w.WriteHeader(http.StatusMethodNotAllowed)
				default:
					http.NotFound(w, r)
				}
			default:
				http.NotFound(w, r)
			}
		default:
			http.NotFound(w, r)
		}
	}
}
