// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/scrape-forge/internal/api"
	"github.com/yourusername/scrape-forge/internal/auth"
	"github.com/yourusername/scrape-forge/internal/config"
	"github.com/yourusername/scrape-forge/internal/logger"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("api server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.LogLevel)
	if cfg.LogFormat != "" {
		logCfg.Format = cfg.LogFormat
	}
	log := logger.New(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := setupJobs(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.Use(api.RequestID())

	secret, err := sessionSecret(cfg, log)
	if err != nil {
		return err
	}
	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token",
		"X-API-Token",
	}
	// ダウンロード時のファイル名と CSRF トークンをフロントエンドから読めるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "X-Job-Id", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, svc)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting api server", "addr", server.Addr, "mode", cfg.GinMode, "auth", cfg.AuthEnabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down api server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// 先に受付を止めてから実行中のワーカーを取り消す
		serverErr := server.Shutdown(shutdownCtx)
		return errors.Join(serverErr, svc.Close(shutdownCtx))
	})
	return g.Wait()
}

// setupRoutes は認証とジョブ API の配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, svc *services) {
	authManager := auth.NewManager(cfg)
	api.RegisterAuthRoutes(router, authManager.Login, authManager.Logout, authManager.Require())
	api.RegisterRoutes(router, api.NewHandler(svc.jobs, version), authManager.Require())
}

// sessionSecret はクッキー署名鍵を返します。未設定ならプロセスごとにランダムな鍵を生成します。
func sessionSecret(cfg *config.Config, log *slog.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	log.Warn("SESSION_SECRET is not set, using a random key; sessions will not survive restarts")
	return buf, nil
}
