// Package main provides the Antigravity translating proxy server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gclaude/antigravity-proxy/internal/auth"
	"github.com/gclaude/antigravity-proxy/internal/cloudcode"
	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/format"
	"github.com/gclaude/antigravity-proxy/internal/server"
	"github.com/gclaude/antigravity-proxy/internal/utils"
	"github.com/gclaude/antigravity-proxy/pkg/redis"
)

func main() {
	var (
		host     string
		port     int
		logLevel string
		debug    bool
		login    bool
	)

	flag.StringVar(&host, "host", "", "Bind address (default: 127.0.0.1)")
	flag.IntVar(&port, "port", 0, "Server port (default: 8082)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (DEBUG/INFO/WARN/ERROR)")
	flag.BoolVar(&debug, "debug", false, "Shorthand for --log-level DEBUG")
	flag.BoolVar(&login, "login", false, "Run the OAuth login flow and exit")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.LoadEnv()
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if debug {
		cfg.LogLevel = "DEBUG"
	}
	utils.SetLevel(cfg.LogLevel)

	store := auth.NewStore(cfg.AccountStorePath)
	if err := store.Load(); err != nil {
		if errors.Is(err, auth.ErrStoreCorrupt) {
			utils.Error("[Startup] Account store %s is corrupt: %v", cfg.AccountStorePath, err)
			utils.Error("[Startup] Move the file aside and log in again")
			os.Exit(2)
		}
		utils.Error("[Startup] Failed to load account store: %v", err)
		os.Exit(2)
	}

	authManager := auth.NewManager(store, config.OAuthConfig)

	if login {
		acct, err := authManager.Login(context.Background())
		if err != nil {
			utils.Error("[Auth] Login failed: %v", err)
			os.Exit(1)
		}
		utils.Success("[Auth] Logged in as %s (project %s)", acct.Email, acct.ProjectID)
		return
	}

	// Adopt an existing IDE login when nothing is stored yet
	if err := auth.ImportIntoStore(store, ""); err != nil {
		utils.Warn("[Startup] IDE credential import failed: %v", err)
	}
	if _, err := store.First(); err != nil {
		utils.Warn("[Startup] No accounts configured; run with --login to authenticate")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			utils.Warn("[Startup] Redis unavailable (%v), using in-memory signature cache", err)
		} else {
			redisClient = client
			defer redisClient.Close()
		}
	}
	format.InitGlobalSignatureCache(redisClient)

	pool := cloudcode.NewEndpointPool()
	client := cloudcode.NewClient(cfg, authManager, pool)
	srv := server.New(cfg, client, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupInfo(cfg, store)

	if err := srv.Run(ctx); err != nil {
		utils.Error("[Server] %v", err)
		os.Exit(1)
	}
	utils.Success("Server stopped")
}

func printStartupInfo(cfg *config.Config, store *auth.Store) {
	utils.Info("Antigravity proxy v%s", config.Version)
	utils.Info("  Models: haiku=%s sonnet=%s opus=%s", cfg.HaikuModel, cfg.SonnetModel, cfg.OpusModel)
	utils.Info("  Accounts: %d", len(store.List()))
	if cfg.ForceDisableStreaming {
		utils.Warn("  Streaming disabled by configuration")
	}
	fmt.Printf("\n  export ANTHROPIC_BASE_URL=http://%s:%d\n\n", cfg.Host, cfg.Port)
}
