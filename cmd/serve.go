package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/feedback-cli/internal/feedback"
	"github.com/sells-group/feedback-cli/internal/model"
	"github.com/sells-group/feedback-cli/internal/pipeline"
)

const maxUploadBytes = 32 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard payload over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(ctx, env.Pipeline, cfg.Dataset.Path, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// api serves the dashboard endpoints. Writes to the tag state are
// serialized; concurrent refreshes of the same dataset share one run.
type api struct {
	ctx     context.Context
	pipe    *pipeline.Pipeline
	dataset string

	mu    sync.Mutex
	group singleflight.Group
}

// buildRouter wires the HTTP routes. ctx bounds background work started by
// handlers so a refresh survives its first caller disconnecting.
func buildRouter(ctx context.Context, p *pipeline.Pipeline, dataset string, origins []string) http.Handler {
	a := &api{ctx: ctx, pipe: p, dataset: dataset}

	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/payload", a.handlePayload)
		r.Post("/ingest", a.handleIngest)
		r.Post("/reset", a.handleReset)
		r.Get("/catalog", a.handleCatalog)
		r.Get("/pending", a.handlePending)
		r.Get("/rows/{hash}", a.handleRow)
	})

	return r
}

func (a *api) handlePayload(w http.ResponseWriter, r *http.Request) {
	payload, err := a.pipe.Payload(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, payload)
}

// handleIngest accepts either a CSV upload (Content-Type text/csv) or a JSON
// body naming a dataset path. An empty body refreshes the configured dataset.
func (a *api) handleIngest(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "text/csv" {
		rows, err := feedback.DecodeCSV(http.MaxBytesReader(w, r.Body, maxUploadBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		respondJSON(w, http.StatusOK, a.run(func(ctx context.Context) *model.Payload {
			return a.pipe.Run(ctx, rows)
		}))
		return
	}

	var req struct {
		Dataset string `json:"dataset"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
	}
	path := req.Dataset
	if path == "" {
		path = a.dataset
	}

	v, _, _ := a.group.Do("dataset:"+path, func() (any, error) {
		return a.run(func(ctx context.Context) *model.Payload {
			return a.pipe.RunDataset(ctx, path)
		}), nil
	})
	respondJSON(w, http.StatusOK, v)
}

func (a *api) run(fn func(context.Context) *model.Payload) *model.Payload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(a.ctx)
}

func (a *api) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		respondError(w, http.StatusBadRequest, eris.New(`reset requires {"confirm": true}`))
		return
	}

	a.mu.Lock()
	err := a.pipe.Reset(r.Context())
	a.mu.Unlock()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (a *api) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := a.pipe.Catalog(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"signature": cat.Signature(),
		"entries":   cat.Entries(),
	})
}

func (a *api) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := a.pipe.Store().ListPending(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if pending == nil {
		pending = []model.PendingTag{}
	}
	respondJSON(w, http.StatusOK, pending)
}

// handleRow reports whether a row hash is already in the processed index.
func (a *api) handleRow(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if len(hash) != sha256.Size*2 {
		respondError(w, http.StatusBadRequest, eris.New("row hash must be a sha256 hex digest"))
		return
	}
	if _, err := hex.DecodeString(hash); err != nil {
		respondError(w, http.StatusBadRequest, eris.New("row hash must be a sha256 hex digest"))
		return
	}

	processed, err := a.pipe.Store().IsProcessed(r.Context(), hash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"row_hash": hash, "processed": processed})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("serve: encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.L().Error("serve: request failed", zap.Error(err))
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
