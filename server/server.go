package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/techagentng/clarkmarket/config"
	"github.com/techagentng/clarkmarket/services"
	"go.uber.org/zap"
)

// Server serves the chat gateway.
type Server struct {
	Config       *config.Config
	AuthProvider services.AuthProvider
	ChatService  services.ChatService
	Logger       *zap.Logger
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Start runs the server until SIGINT or SIGTERM, then drains open requests.
func (s *Server) Start() {
	log := s.logger()
	addr := fmt.Sprintf(":%d", s.Config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server started", zap.String("addr", addr), zap.String("env", s.Config.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
}
