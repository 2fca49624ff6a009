// Command hub runs the Star Protocol Hub: the Connection Acceptor, Router,
// and Heartbeater wired together over one in-memory Session Registry
// (mirroring ingress/main.go's wiring, generalized from a two-port
// WebSocket/internal-HTTP split to the single accept+admin surface
// internal/server.Server exposes).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GCYYfun/star-protocol/internal/auth"
	"github.com/GCYYfun/star-protocol/internal/config"
	"github.com/GCYYfun/star-protocol/internal/hub"
	"github.com/GCYYfun/star-protocol/internal/metrics"
	"github.com/GCYYfun/star-protocol/internal/server"
)

func main() {
	cfg := config.Load()

	log.Printf("starting star-protocol hub")
	log.Printf("listen: %s:%d", cfg.Host, cfg.Port)
	log.Printf("auth enabled: %v, validation enabled: %v", cfg.EnableAuth, cfg.EnableValidation)

	sink := metrics.NewLogSink()

	authenticator := buildAuthenticator()
	authorizer := buildAuthorizer(context.Background())

	h := hub.New(authorizer, sink, cfg.HeartbeatInterval, cfg.SessionTimeout)
	srv := server.New(cfg, h, authenticator, sink)

	hubCtx, cancelHub := context.WithCancel(context.Background())
	go h.Run(hubCtx)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("hub server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down hub...")
	cancelHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("hub shutdown error: %v", err)
	}
	log.Println("hub stopped")
}

func buildAuthenticator() auth.Authenticator {
	if key := os.Getenv("STAR_API_KEY"); key != "" {
		return auth.NewAPIKeyAuthenticator(key)
	}
	if secret := os.Getenv("STAR_JWT_SECRET"); secret != "" {
		return auth.NewJWTAuthenticator([]byte(secret))
	}
	return auth.AllowAllAuthenticator{}
}

func buildAuthorizer(ctx context.Context) auth.Authorizer {
	policyPath := os.Getenv("STAR_POLICY_FILE")
	if policyPath == "" {
		authorizer, err := auth.NewOPAAuthorizer(ctx, auth.DefaultPolicy)
		if err != nil {
			log.Fatalf("build default policy authorizer: %v", err)
		}
		return authorizer
	}

	content, err := os.ReadFile(policyPath)
	if err != nil {
		log.Fatalf("read policy file %s: %v", policyPath, err)
	}
	authorizer, err := auth.NewOPAAuthorizer(ctx, string(content))
	if err != nil {
		log.Fatalf("build policy authorizer from %s: %v", policyPath, err)
	}
	return authorizer
}
