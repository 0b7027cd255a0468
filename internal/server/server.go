// Package server is the HTTP surface: the webhook receiver the item service
// pushes change batches to, plus a token-guarded admin API for provisioning
// and diagnostics.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"herald/internal/notify"
	logx "herald/pkg/logx"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// webhookSchema is the minimal shape contract for pushed batches. Anything
// beyond it (extra fields, unknown actions) passes through to the classifier,
// which drops what it cannot map.
const webhookSchema = `{
	"type": "object",
	"required": ["events"],
	"properties": {
		"events": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["resource", "action"],
				"properties": {
					"resource": {"type": "object", "required": ["resource_type", "gid"]},
					"action": {"type": "string"}
				}
			}
		}
	}
}`

// Engine is the notification surface the HTTP layer drives.
type Engine interface {
	HandleWebhook(records []notify.ChangeRecord)
	Provision(ctx context.Context) (notify.CategoryStatus, error)
	Repair(ctx context.Context) (notify.CategoryStatus, error)
	ProvisionStatus() notify.CategoryStatus
	SelfTest(ctx context.Context) []notify.SelfTestResult
	RegisterWebhook(ctx context.Context) (string, error)
	Deliveries() []notify.DeliveryRecord
}

type Config struct {
	Addr string
	// AdminToken guards the /admin routes. Empty disables them entirely.
	AdminToken string
}

// Server owns the gin router and the underlying http.Server lifecycle.
type Server struct {
	cfg    Config
	log    logx.Logger
	engine Engine
	schema *jsonschema.Schema

	router *gin.Engine
	srv    *http.Server
}

func New(cfg Config, engine Engine, log logx.Logger) (*Server, error) {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookSchema))
	if err != nil {
		return nil, fmt.Errorf("parse webhook schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("webhook.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add webhook schema: %w", err)
	}
	schema, err := compiler.Compile("webhook.json")
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, log: log, engine: engine, schema: schema}
	s.router = gin.New()
	s.router.Use(s.recovery())
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.POST("/webhook", s.handleWebhook)

	if s.cfg.AdminToken == "" {
		s.log.Warn("no admin token configured; admin API disabled")
		return
	}
	admin := s.router.Group("/admin", s.adminAuth())
	admin.POST("/provision", s.handleProvision)
	admin.POST("/repair", s.handleRepair)
	admin.GET("/status", s.handleStatus)
	admin.POST("/selftest", s.handleSelfTest)
	admin.POST("/webhook-registration", s.handleRegisterWebhook)
	admin.GET("/deliveries", s.handleDeliveries)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving in the background. Listen errors after startup are
// logged, not returned.
func (s *Server) Start(_ context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// webhookPayload is the decoded push batch.
type webhookPayload struct {
	Events []notify.ChangeRecord `json:"events"`
}

// handleWebhook acknowledges pushes. The handshake (X-Hook-Secret) is echoed
// without touching the body. A parseable batch is always answered 200 before
// any downstream work happens; delivery problems are never the pusher's
// concern and must not trigger remote retries.
func (s *Server) handleWebhook(c *gin.Context) {
	if secret := c.GetHeader("X-Hook-Secret"); secret != "" {
		c.Header("X-Hook-Secret", secret)
		s.log.Info("webhook handshake acknowledged")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.badRequest(c, "unreadable body")
		return
	}
	if len(body) == 0 {
		s.badRequest(c, "empty body")
		return
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(body)))
	if err != nil {
		s.badRequest(c, "malformed JSON")
		return
	}
	if err := s.schema.Validate(doc); err != nil {
		s.badRequest(c, "unexpected payload shape")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.badRequest(c, "malformed JSON")
		return
	}

	s.engine.HandleWebhook(payload.Events)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleProvision(c *gin.Context) {
	st, err := s.engine.Provision(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleRepair(c *gin.Context) {
	st, err := s.engine.Repair(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.ProvisionStatus())
}

func (s *Server) handleSelfTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": s.engine.SelfTest(c.Request.Context())})
}

func (s *Server) handleRegisterWebhook(c *gin.Context) {
	id, err := s.engine.RegisterWebhook(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "webhook_id": id})
}

func (s *Server) handleDeliveries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"deliveries": s.engine.Deliveries()})
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	s.log.Warn("webhook rejected", logx.String("reason", msg))
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": msg})
}

func (s *Server) adminAuth() gin.HandlerFunc {
	token := []byte(s.cfg.AdminToken)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("X-Admin-Token"))
		if subtle.ConstantTimeCompare(got, token) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("handler panic",
					logx.String("path", c.Request.URL.Path), logx.Any("panic", r))
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					gin.H{"status": "error", "message": "internal error"})
			}
		}()
		c.Next()
	}
}
