package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/monitoring"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve coordinate lookups over the layers of a finished run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		dir, _ := cmd.Flags().GetString("dir")
		layers, err := loadRunLayers(ctx, runDir(dir))
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		metrics := monitoring.NewMetricsWithRegistry(reg)

		if cfg.Monitoring.Enabled {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st, nil),
				monitoring.NewAlerter(cfg.Monitoring, metrics),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		port, _ := cmd.Flags().GetInt("port")
		handler := buildRouter(layers, metrics, reg, cfg.Server.CORSOrigins)
		shutdown := time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second
		return startServer(ctx, handler, resolvePort(port, cfg.Server.Port), shutdown)
	},
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// buildRouter wires the lookup API. Layers must be aligned.
func buildRouter(layers []*grid.Grid, metrics *monitoring.Metrics, gatherer prometheus.Gatherer, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/layers", func(w http.ResponseWriter, _ *http.Request) {
		meta := make([]grid.Metadata, len(layers))
		for i, l := range layers {
			meta[i] = l.Metadata()
		}
		writeJSON(w, http.StatusOK, meta)
	})

	r.Get("/lookup", func(w http.ResponseWriter, req *http.Request) {
		x, errX := strconv.ParseFloat(req.URL.Query().Get("x"), 64)
		y, errY := strconv.ParseFloat(req.URL.Query().Get("y"), 64)
		if errX != nil || errY != nil {
			countLookup(metrics, "error")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "x and y must be numbers"})
			return
		}
		values, err := lookupAll(layers, x, y)
		switch {
		case isOutOfBounds(err):
			countLookup(metrics, "out_of_bounds")
			writeJSON(w, http.StatusOK, map[string]string{"message": "out of bounds"})
		case err != nil:
			countLookup(metrics, "error")
			zap.L().Error("lookup failed", zap.Float64("x", x), zap.Float64("y", y), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		default:
			countLookup(metrics, "hit")
			writeJSON(w, http.StatusOK, map[string]any{"x": x, "y": y, "values": values})
		}
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func countLookup(m *monitoring.Metrics, outcome string) {
	if m != nil {
		m.LookupsTotal.WithLabelValues(outcome).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// startServer serves handler until ctx is done, then drains connections
// within shutdownTimeout.
func startServer(ctx context.Context, handler http.Handler, port int, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}

func init() {
	serveCmd.Flags().Int("port", 0, "server port (default from config)")
	serveCmd.Flags().String("dir", "", "run output directory (default <output.dir>/<reference>)")
	rootCmd.AddCommand(serveCmd)
}
