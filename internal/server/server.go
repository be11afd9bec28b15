// Package server は生成パイプラインを HTTP で公開します。
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// Generator は HTTP 層から見たパイプラインです。
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
	Ready() bool
}

// HTTPRecorder は HTTP リクエストの観測値を受け取ります。
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, status int, elapsed time.Duration)
}

// DefaultMaxUploadBytes はアップロードできる画像サイズの上限です。
const DefaultMaxUploadBytes = 32 << 20

// Options は Server の任意設定です。
type Options struct {
	Logger         *slog.Logger
	Recorder       HTTPRecorder
	MetricsHandler http.Handler // nil なら /metrics を公開しない
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Server は gin のルーターを保持します。
type Server struct {
	gen    Generator
	opts   Options
	logger *slog.Logger
	engine *gin.Engine
}

// New はルーティングを設定した Server を返します。
func New(gen Generator, opts Options) (*Server, error) {
	if gen == nil {
		return nil, errRequired("generator")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{gen: gen, opts: opts, logger: opts.Logger}
	s.engine = s.routes()
	return s, nil
}

// Handler は http.Server に渡すハンドラーです。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(s.accessLog())
	router.Use(cors.New(s.corsConfig()))

	router.GET("/health", s.health)
	router.POST("/generate", s.generateFromUpload)
	router.POST("/generate_from_base64", s.generateFromBase64)
	if s.opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(s.opts.MetricsHandler))
	}
	return router
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", headerRequestID},
		ExposeHeaders: []string{headerRequestID, headerSeed, headerGenerationTime},
		MaxAge:        12 * time.Hour,
	}
	if len(s.opts.AllowedOrigins) == 1 && s.opts.AllowedOrigins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.AllowedOrigins
	}
	return cfg
}

func (s *Server) health(c *gin.Context) {
	if !s.gen.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting", "ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "ready": true})
}
