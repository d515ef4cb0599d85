package browser

import (
	_ "embed"
	"encoding/base64"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//go:embed page.html
var signingPage []byte

// resultRequest is the payload the signing page posts back.
type resultRequest struct {
	Nonce     string `json:"nonce"`
	Status    string `json:"status"`
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

func (s *Session) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.loopbackOnly())

	router.GET("/", s.requireNonce(), s.handlePage)
	router.GET("/config", s.requireNonce(), s.handleConfig)
	router.GET("/logs", s.requireNonce(), s.handleLogs)
	router.POST("/result", s.handleResult)

	return router
}

// loopbackOnly rejects every request that does not originate from the
// local host. The check uses the socket peer address, not headers.
func (s *Session) loopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		if host != "127.0.0.1" && host != "::1" {
			s.logger.Warn("rejected request from non-loopback address",
				zap.String("remote", c.Request.RemoteAddr),
				zap.String("path", c.Request.URL.Path))
			c.String(http.StatusForbidden, "Localhost only")
			c.Abort()
			return
		}
		c.Next()
	}
}

// requireNonce rejects requests whose nonce query parameter does not
// match the session nonce exactly.
func (s *Session) requireNonce() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("nonce") != s.nonce {
			s.logger.Warn("rejected request with invalid nonce",
				zap.String("remote", c.Request.RemoteAddr),
				zap.String("path", c.Request.URL.Path))
			c.String(http.StatusForbidden, "Invalid nonce")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Session) handlePage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", signingPage)
}

func (s *Session) handleConfig(c *gin.Context) {
	last, items := s.logsSince(0)
	c.JSON(http.StatusOK, gin.H{
		"nonce":               s.nonce,
		"documentName":        s.documentName,
		"documentPayload":     s.documentB64,
		"logEnabled":          s.PageLog,
		"initialLogs":         items,
		"lastLogId":           last,
		"pluginScriptSources": PluginScriptSources,
	})
}

func (s *Session) handleLogs(c *gin.Context) {
	if !s.PageLog {
		c.Status(http.StatusNotFound)
		return
	}
	after, err := strconv.Atoi(c.DefaultQuery("after", "0"))
	if err != nil {
		after = 0
	}
	last, items := s.logsSince(after)
	c.JSON(http.StatusOK, gin.H{"last": last, "items": items})
}

func (s *Session) handleResult(c *gin.Context) {
	var req resultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("failed to parse page result payload", zap.Error(err))
		c.String(http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Nonce != s.nonce {
		s.logger.Warn("rejected result with invalid nonce",
			zap.String("remote", c.Request.RemoteAddr))
		c.String(http.StatusForbidden, "Invalid nonce")
		return
	}

	if req.Status != "ok" {
		message := req.Error
		if message == "" {
			message = "Неизвестная ошибка браузерной подписи"
		}
		s.setFailure(message)
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
		return
	}

	if req.Signature == "" {
		s.logger.Error("page result carries no signature")
		c.String(http.StatusBadRequest, "No signature")
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		s.logger.Error("failed to decode page signature", zap.Error(err))
		c.String(http.StatusBadRequest, "Bad signature encoding")
		return
	}

	s.setResult(&Result{Signature: signature, Message: "Плагин вернул подпись"})
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
