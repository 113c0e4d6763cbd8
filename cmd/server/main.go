// Command server runs the OsteoView X-ray analysis service and its
// offline heatmap tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/osteoview/osteoview/internal/auth"
	"github.com/osteoview/osteoview/internal/classifier"
	"github.com/osteoview/osteoview/internal/config"
	"github.com/osteoview/osteoview/internal/handlers"
	"github.com/osteoview/osteoview/internal/heatmap"
	"github.com/osteoview/osteoview/internal/service"
	"github.com/osteoview/osteoview/internal/store"
)

func main() {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:           "osteoview",
		Short:         "X-ray cancer screening service with saliency heatmaps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("OSTEOVIEW_CONFIG"), "path to YAML config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, debug)
		},
	}

	var (
		inputPath  string
		outputPath string
		class      string
		alpha      float64
	)
	heatmapCmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Render a saliency overlay for one image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" || outputPath == "" {
				return errors.New("both --input and --output are required")
			}
			return heatmap.Render(inputPath, outputPath, class, alpha)
		},
	}
	heatmapCmd.Flags().StringVarP(&inputPath, "input", "i", "", "source image path")
	heatmapCmd.Flags().StringVarP(&outputPath, "output", "o", "", "overlay output path")
	heatmapCmd.Flags().StringVar(&class, "class", "normal", "predicted class (cancer or normal)")
	heatmapCmd.Flags().Float64Var(&alpha, "alpha", heatmap.DefaultAlpha, "overlay opacity in [0,1]")

	root.AddCommand(serveCmd, heatmapCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServe(configPath string, debug bool) error {
	log, err := newLogger(debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	clf, err := classifier.New(cfg.ModelPath, cfg.MetadataPath)
	if err != nil {
		return fmt.Errorf("initialize classifier: %w", err)
	}
	defer clf.Close()

	authMgr := auth.NewManager(st, cfg.SessionTTL)
	svc := service.New(st, clf, cfg, log)

	mux := http.NewServeMux()
	handlers.New(svc, authMgr, cfg, log).Routes(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go purgeSessions(ctx, st, log)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("server starting",
		zap.String("addr", cfg.Addr),
		zap.String("model", cfg.ModelPath),
		zap.Strings("classes", clf.Metadata.Classes))

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}

// purgeSessions drops expired login sessions hourly.
func purgeSessions(ctx context.Context, st *store.Store, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if n, err := st.PurgeExpiredSessions(ctx); err != nil {
			log.Warn("session purge failed", zap.Error(err))
		} else if n > 0 {
			log.Info("purged expired sessions", zap.Int64("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
