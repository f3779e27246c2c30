// Package httpapi exposes the enriched sheet as JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"skin_sheet/internal/pipeline"

	"github.com/rs/zerolog/log"
)

// Loader produces the payload for one request. *pipeline.Service implements it.
type Loader interface {
	Load(ctx context.Context, includePrices bool) (pipeline.Payload, error)
}

type Server struct {
	loader Loader
}

func New(loader Loader) *Server {
	return &Server{loader: loader}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items", s.items)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *Server) items(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	includePrices := r.URL.Query().Get("prices") == "1"

	payload, err := s.loader.Load(r.Context(), includePrices)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load items")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	log.Debug().
		Int("items", len(payload.Items)).
		Bool("prices", includePrices).
		Dur("took", time.Since(start)).
		Msg("Served items")
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

// ListenAndServe serves h on addr until ctx is done, then shuts down.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
