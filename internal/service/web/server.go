package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"torrer/internal/shared/logger"
	"torrer/internal/shared/types"
)

const shutdownTimeout = 5 * time.Second

// basicAuthMiddleware 检查 web_user 和 web_password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux wires the status API routes.
func NewMux(cfg types.WebConf, controller Controller, hub *Hub) *http.ServeMux {
	handler := NewHandler(controller)
	mux := http.NewServeMux()

	user, pass := cfg.WebUser, cfg.WebPassword

	mux.Handle("/api/bridges", basicAuthMiddleware(http.HandlerFunc(handler.HandleBridges), user, pass))
	mux.Handle("/api/bridges/priority", basicAuthMiddleware(http.HandlerFunc(handler.HandlePriority), user, pass))
	mux.Handle("/api/circuits", basicAuthMiddleware(http.HandlerFunc(handler.HandleCircuits), user, pass))

	// 公开的状态 API 与事件流
	mux.HandleFunc("/api/status", handler.HandleStatus)
	mux.HandleFunc("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})
	return mux
}

// Serve runs the status API on cfg.Listen until ctx is cancelled. An empty
// listen address disables it.
func Serve(ctx context.Context, cfg types.WebConf, controller Controller, hub *Hub) error {
	l := logger.WithComponent("Web/Server")
	if cfg.Listen == "" {
		l.Info().Msg("Status API is disabled (listen is not set).")
		return nil
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		l.Error().Err(err).Str("addr", cfg.Listen).Msg("FAILED to start status API")
		return err
	}

	srv := &http.Server{
		Handler:           NewMux(cfg, controller, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	l.Info().Str("addr", listener.Addr().String()).Msg("Status API is listening")
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error().Err(err).Msg("Status API error")
		return err
	}
	l.Info().Msg("Status API stopped.")
	return nil
}
