package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestID はクライアントが付けた X-Request-ID を引き継ぎ、なければ生成します。
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(headerRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// accessLog は slog でアクセスログを出し、設定されていれば HTTP メトリクスを記録します。
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		// 未登録パスでラベルが増えないようにルートのパターンを使う
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		s.logger.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"elapsed", elapsed,
			"request_id", c.GetString(headerRequestID),
		)
		if s.opts.Recorder != nil {
			s.opts.Recorder.RecordHTTPRequest(c.Request.Method, path, status, elapsed)
		}
	}
}
