package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/samis-guide/guide-cli/internal/model"
	"github.com/samis-guide/guide-cli/internal/pipeline"
	"github.com/samis-guide/guide-cli/internal/ratelimit"
	"github.com/samis-guide/guide-cli/internal/resolver"
	"github.com/samis-guide/guide-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		limiter := ratelimit.New(
			ratelimit.NewMemoryCounter(),
			cfg.Ingest.RateLimit,
			time.Duration(cfg.Ingest.RateWindowSecs)*time.Second,
		)

		router := newRouter(env, limiter, cfg.Ingest.Secret)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// ingestBody is the wire shape the Telegram bot (and anything else) posts.
type ingestBody struct {
	IngestSecret string   `json:"ingestSecret"`
	MapsURL      string   `json:"mapsUrl"`
	Category     string   `json:"category,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	GoodFor      []string `json:"goodFor,omitempty"`
	Review       string   `json:"review,omitempty"`
}

func newRouter(env *env, limiter *ratelimit.Limiter, secret string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/ingest", ingestHandler(env, limiter, secret))

	r.Get("/api/places", func(w http.ResponseWriter, req *http.Request) {
		filter := store.Filter{PublishedOnly: req.URL.Query().Get("all") != "1"}
		if c := model.NormalizeCategory(req.URL.Query().Get("category")); c != "" {
			filter.Category = c
		}
		places, err := env.Store.List(req.Context(), filter)
		if err != nil {
			zap.L().Error("list places failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if places == nil {
			places = []model.Place{}
		}
		writeJSON(w, http.StatusOK, places)
	})

	r.Get("/api/places/{id}", func(w http.ResponseWriter, req *http.Request) {
		place, err := env.Store.GetByID(req.Context(), chi.URLParam(req, "id"))
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "place not found")
			return
		}
		if err != nil {
			zap.L().Error("get place failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, place)
	})

	return r
}

// ingestHandler validates the request fully before any network work starts,
// then runs the pipeline. Callers get either the saved place or a single-
// sentence rejection; transport errors never leak through.
func ingestHandler(env *env, limiter *ratelimit.Limiter, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := uuid.NewString()
		startedAt := time.Now()

		var body ingestBody
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if secret == "" || subtle.ConstantTimeCompare([]byte(body.IngestSecret), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if !limiter.Allow(req.Context(), "ingest") {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		if body.MapsURL == "" {
			writeError(w, http.StatusBadRequest, "mapsUrl is required")
			return
		}

		overrides := model.Overrides{
			Category:     body.Category,
			Neighborhood: body.Neighborhood,
			Rating:       body.Rating,
			Tags:         body.Tags,
			GoodFor:      body.GoodFor,
			Review:       body.Review,
		}
		if err := overrides.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := env.Pipeline.Ingest(req.Context(), pipeline.Request{
			SourceURL: body.MapsURL,
			Overrides: overrides,
		})
		if errors.Is(err, resolver.ErrUnresolvable) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			zap.L().Error("ingest failed",
				zap.String("req_id", reqID),
				zap.String("maps_url", body.MapsURL),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		zap.L().Info("ingest complete",
			zap.String("req_id", reqID),
			zap.String("place_id", result.Place.ID),
			zap.Bool("created", result.Created),
			zap.Duration("elapsed", time.Since(startedAt)),
		)

		writeJSON(w, http.StatusOK, map[string]any{
			"ok": true,
			"place": map[string]any{
				"id":           result.Place.ID,
				"name":         result.Place.Name,
				"neighborhood": result.Place.Neighborhood,
				"url":          "/places/" + result.Place.ID,
			},
			"meta": map[string]any{
				"expandedUrl": result.Resolved.CanonicalURL,
				"placeId":     result.Resolved.StableID,
				"cid":         result.Resolved.AlternateID,
				"query":       result.Resolved.TextQuery,
			},
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
