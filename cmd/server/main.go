// Package main is the entry point for the tenantdb API server.
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

	"tenantdb/internal/app"
	"tenantdb/internal/config"
	"tenantdb/internal/domain/auth"
	v1 "tenantdb/internal/infrastructure/http/v1"
	"tenantdb/pkg/logger"
)

// version is set at build time with -ldflags.
var version = "dev"

// devJWTSecret is used only when APP_ENV=development and JWT_SECRET is unset.
const devJWTSecret = "development-only-secret"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Fatalw("server failed", "error", err)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx := context.Background()
	log.Infow("starting tenantdb server",
		"driver", cfg.DatabaseDriver,
		"multi_tenancy", cfg.MultiTenancyStyle,
		"version", version,
	)

	stack, err := app.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stack.Close()

	if stack.Tenants != nil && cfg.PrewarmPools {
		log.Info("prewarming tenant pools...")
		if err := stack.Tenants.PrewarmPools(ctx); err != nil {
			log.Warnw("failed to prewarm some pools", "error", err)
		}
	}

	invoices, err := stack.InvoiceService()
	if err != nil {
		return fmt.Errorf("build invoice service: %w", err)
	}

	secret := cfg.JWTSecret
	if secret == "" {
		log.Warn("JWT_SECRET not set, using development secret")
		secret = devJWTSecret
	}
	jwtService, err := auth.NewJWTService(auth.DefaultJWTConfig(secret))
	if err != nil {
		return err
	}

	routerCfg := v1.RouterConfig{
		Logger:       log,
		JWTValidator: jwtService,
		UnitOfWork:   stack.UnitOfWork,
		Database:     stack.Shared,
		Invoices:     invoices,
		Version:      version,
	}
	if stack.Tenants != nil {
		routerCfg.Tenants = stack.Tenants
		routerCfg.TenantStats = stack.Tenants
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      v1.NewRouter(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
