package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/zoomtile/internal/logging"
	"github.com/kiesman99/zoomtile/internal/server"
	"github.com/kiesman99/zoomtile/internal/viewer"
	"github.com/kiesman99/zoomtile/pkg/geom"
)

const version = "1.0.0"

var serveCmd = &cobra.Command{
	Use:   "serve IMAGE",
	Short: "Start HTTP server for an interactive viewer session",
	Long: `Start an HTTP server that holds one viewer session over IMAGE.

Clients post gestures, resize the container or animate to a transform, and
fetch the composited frame. Tiles keep loading in the background between
requests.

Examples:
  # Start server on default port 8080
  zoomtile serve pattern:100000x50000

  # Start server on custom port with a larger container
  zoomtile serve scan.tif --port 3000 --width 1920 --height 1080

  # Start server with custom bind address
  zoomtile serve scan.tif --bind 0.0.0.0 --port 8080`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")
	serveCmd.Flags().Duration("frame-interval", viewer.DefaultFrameInterval, "session frame interval")
	serveCmd.Flags().Int("width", 800, "initial container width in pixels")
	serveCmd.Flags().Int("height", 600, "initial container height in pixels")

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("server.frame_interval", serveCmd.Flags().Lookup("frame-interval"))
	viper.BindPFlag("server.width", serveCmd.Flags().Lookup("width"))
	viper.BindPFlag("server.height", serveCmd.Flags().Lookup("height"))
}

func runServe(cmd *cobra.Command, args []string) error {
	bind := viper.GetString("server.bind")
	port := viper.GetInt("server.port")
	timeout := viper.GetDuration("server.timeout")
	width, height := viper.GetInt("server.width"), viper.GetInt("server.height")

	addr := fmt.Sprintf("%s:%d", bind, port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, err := openViewer(ctx, args[0], geom.Sz(float64(width), float64(height)))
	if err != nil {
		return err
	}
	info, tiers := v.Info(), v.Grid().MaxTier+1
	session := viewer.NewSession(v, viper.GetDuration("server.frame_interval"))
	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Logger().Error("serve: session stopped", "err", err)
		}
	}()

	// Create Chi router
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(timeout))

	// CORS middleware for API access
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Frame-Info, X-Pending-Tiles")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	apiServer := server.NewServer(session, version)

	r.Route("/api/v1", func(r chi.Router) {
		server.HandlerWithOptions(apiServer, server.ChiServerOptions{
			BaseRouter: r,
		})
	})

	// Unprefixed health endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v1/health", http.StatusMovedPermanently)
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigChan:
		case <-session.Done():
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "\nShutting down server...\n")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		cancel()
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "Starting zoomtile server on %s\n", addr)
	fmt.Fprintf(cmd.ErrOrStderr(), "Image: %s (%dx%d, %d tiers)\n", args[0], info.Width, info.Height, tiers)
	fmt.Fprintf(cmd.ErrOrStderr(), "Health check: http://%s/api/v1/health\n", addr)
	fmt.Fprintf(cmd.ErrOrStderr(), "Frame endpoint: http://%s/api/v1/frame.png\n", addr)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		cancel()
		<-session.Done()
		return fmt.Errorf("server error: %v", err)
	}

	<-session.Done()
	return nil
}
