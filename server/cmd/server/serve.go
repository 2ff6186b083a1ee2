package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/attribstream/attribstream/server/internal/alerts"
	"github.com/attribstream/attribstream/server/internal/api"
	"github.com/attribstream/attribstream/server/internal/auth"
	"github.com/attribstream/attribstream/server/internal/config"
	"github.com/attribstream/attribstream/server/internal/history"
	"github.com/attribstream/attribstream/server/internal/receiver"
	"github.com/attribstream/attribstream/server/internal/store"
	"github.com/attribstream/attribstream/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("attribstream-server starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return err
	}
	s := cfg.Server
	level.Set(s.SlogLevel())

	slog.Info("config loaded",
		"http_port", s.HTTPPort,
		"auth_mode", s.Auth.Mode,
		"snapshot_ttl", s.Snapshot.TTL,
		"broadcast_interval", s.Broadcast.Interval,
		"history", s.History.Enabled,
	)
	if s.Auth.Mode == "apikey" && s.Auth.Key() == "" {
		slog.Warn("auth mode is apikey but no key is set; ingestion is open", "key_env", s.Auth.KeyEnv)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Record store with background TTL eviction.
	st := store.New(s.Snapshot.TTL)

	// Alerts engine: evaluates rules on every incoming record.
	alertEngine, err := alerts.New(s.Alerts)
	if err != nil {
		return err
	}
	slog.Info("alert rules loaded", "count", len(alertEngine.Rules()), "webhooks", len(s.Alerts.Webhooks))

	var hist *history.Store
	if s.History.Enabled {
		hist, err = history.Open(s.History.Path)
		if err != nil {
			return err
		}
		defer hist.Close()
		slog.Info("history enabled", "path", s.History.Path, "retention", s.History.Retention)
	}

	apiOpts := []api.Option{api.WithAlerts(alertEngine)}
	if hist != nil {
		apiOpts = append(apiOpts, api.WithHistory(hist))
	}
	handler := api.New(st, apiOpts...)

	// WebSocket hub: pushes the full snapshot every interval, plus each
	// record and alert change as it happens.
	hub := ws.New(func() any { return handler.Snapshot() }, s.Broadcast.Interval)

	recvOpts := []receiver.Option{receiver.WithAlerts(alertEngine), receiver.WithPublisher(hub)}
	if hist != nil {
		recvOpts = append(recvOpts, receiver.WithHistory(hist))
	}
	recv := receiver.New(st, recvOpts...)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.HTTPPort),
		Handler:           newRouter(s, handler, recv, hub, uiDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if hist != nil {
		g.Go(func() error {
			hist.Run(gctx, s.History.Retention)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", s.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("attribstream-server shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return httpSrv.Shutdown(sctx)
	})

	err = g.Wait()
	alertEngine.Close()
	return err
}

// newRouter assembles ingestion, REST API, WebSocket and optional UI routes.
func newRouter(s config.ServerConfig, h *api.Handler, recv *receiver.Receiver, hub *ws.Hub, uiDir string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestLogger())

	recv.Register(r, auth.APIKey(s.Auth.Mode, s.Auth.EffectiveHeader(), s.Auth.Key()))
	h.Register(r)
	r.GET("/ws/stream", gin.WrapH(hub))
	r.GET("/ws", gin.WrapH(hub))

	if uiDir != "" {
		r.NoRoute(spaHandler(uiDir))
		slog.Info("serving UI static files", "dir", uiDir)
	} else {
		h.RegisterRoot(r)
		r.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": api.CodeNotFound})
		})
	}
	return r
}

// requestLogger logs every request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
