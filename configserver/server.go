// CLAUDE:SUMMARY chi HTTP API over the YAML store: CRUD for configuration/specific/pages documents, lookup, pages resolve, schema + action validation.
// Package configserver serves VisionBridge configuration documents over
// HTTP from a directory of YAML files. GET /api/configuration/all is the
// endpoint agents fetch; the other routes manage documents.
//
// Usage:
//
//	store, _ := configserver.OpenStore("configs", logger)
//	srv, _ := configserver.New(cfg, store, logger)
//	go store.Watch(ctx)
//	srv.ListenAndServe(ctx)
package configserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/visionbridge/rule"
	"github.com/hazyhaar/visionbridge/shield"
)

// Server is the configuration HTTP API.
type Server struct {
	cfg      Config
	store    *Store
	logger   *slog.Logger
	schema   *validator
	sanitize func(string) string
}

// New builds a Server over store.
func New(cfg Config, store *Store, logger *slog.Logger) (*Server, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		schema:   v,
		sanitize: fragmentPolicy().Sanitize,
	}, nil
}

// fragmentPolicy strips scripts, styles and event handlers from stored
// fragments while keeping the class and data attributes rules rely on.
func fragmentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowDataAttributes()
	return p
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(s.logger, s.cfg.MaxBodyBytes) {
		r.Use(mw)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/api/ping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	})

	r.Route("/api/configuration", func(r chi.Router) {
		r.Get("/all", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.store.All())
		})
		s.crud(r, FamilyConfiguration)
	})

	r.Route("/api/specific", func(r chi.Router) {
		r.Get("/", s.handleSpecificLookup)
		s.crud(r, FamilySpecific)
	})

	r.Route("/api/pages", func(r chi.Router) {
		r.Get("/all", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.store.List(FamilyPages))
		})
		r.Get("/resolve", s.handlePagesResolve)
		s.crud(r, FamilyPages)
	})

	return r
}

// crud mounts POST /, GET|PUT|DELETE /{id} for one family.
func (s *Server) crud(r chi.Router, f Family) {
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.decodeWrite(r, f)
		if err != nil {
			writeError(w, writeStatus(err), err)
			return
		}
		id := doc.ID()
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
			return
		}
		s.save(w, r, f, id, doc, http.StatusCreated)
	})

	r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.store.Get(f, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	})

	r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.decodeWrite(r, f)
		if err != nil {
			writeError(w, writeStatus(err), err)
			return
		}
		s.save(w, r, f, chi.URLParam(r, "id"), doc, http.StatusOK)
	})

	r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.store.Delete(f, id); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrNotFound) {
				code = http.StatusNotFound
			}
			writeError(w, code, err)
			return
		}
		shield.GetLogger(r.Context()).Info("configserver: deleted", "family", f, "id", id)
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted", "id": id})
	})
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, f Family, id string, doc Document, code int) {
	stored, err := s.store.Put(f, id, doc)
	if err != nil {
		var idErr *InvalidIDError
		if errors.As(err, &idErr) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	shield.GetLogger(r.Context()).Info("configserver: saved", "family", f, "id", id)
	msg := "updated"
	if code == http.StatusCreated {
		msg = "created"
	}
	writeJSON(w, code, map[string]any{"message": msg, "id": id, "document": stored})
}

// decodeWrite reads a write body, validates it against the schema, checks
// and sanitises its actions. Configuration and specific documents must
// carry an actions array.
func (s *Server) decodeWrite(r *http.Request, f Family) (Document, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("configserver: read body: %w", err)
	}
	if err := s.schema.validate(f, data); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("configserver: decode body: %w", err)
	}

	raw, present := doc["actions"]
	if !present || raw == nil {
		if f != FamilyPages {
			return nil, errors.New("configserver: actions array is required")
		}
		return doc, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("configserver: actions: %w", err)
	}
	var actions []rule.Action
	if err := json.Unmarshal(buf, &actions); err != nil {
		return nil, fmt.Errorf("configserver: actions: %w", err)
	}
	clean, err := rule.ValidateActions(actions, s.sanitize)
	if err != nil {
		return nil, err
	}
	doc["actions"] = clean
	return doc, nil
}

func (s *Server) handleSpecificLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doc, ok := s.store.Specific(q.Get("id"), q.Get("host"), q.Get("url"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePagesResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	host, rawURL, page := q.Get("host"), q.Get("url"), q.Get("page")
	if host == "" && rawURL == "" && page == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "host, url or page parameter is required"})
		return
	}
	res, ok := s.store.ResolvePages(host, rawURL, page)
	if !ok {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListenAndServe serves the API on cfg.Addr until ctx is done, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("configserver: listening", "addr", s.cfg.Addr, "dir", s.store.Dir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("configserver: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("configserver: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("configserver: shutdown: %w", err)
	}
	return nil
}

// writeStatus maps a decodeWrite error onto a status code.
func writeStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
