// Package api admin/status HTTP API сервера.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/fg-server/internal/logging"
	"github.com/annel0/fg-server/internal/metrics"
	"github.com/annel0/fg-server/internal/middleware"
	"github.com/annel0/fg-server/internal/network"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/session"
)

// Status снимок состояния сервера, публикуемый циклом тиков
type Status struct {
	Tick     uint64               `json:"tick"`
	TickRate int                  `json:"tick_rate"`
	Stopping bool                 `json:"stopping"`
	Session  session.Stats        `json:"session"`
	Network  network.Stats        `json:"network"`
	Process  metrics.ProcessStats `json:"process"`
	Pending  int                  `json:"pending_persistence"`
}

// StatusSource отдаёт последний снимок состояния
type StatusSource interface {
	Status() Status
}

// TokenIssuer выдаёт токены входа
type TokenIssuer interface {
	Issue(pid protocol.PID) (string, time.Time, error)
}

// Kicker отключает игрока из цикла тиков
type Kicker interface {
	Kick(ctx context.Context, pid protocol.PID) error
}

// Registry реестр Prometheus для метрик API и эндпоинта /metrics
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// Config содержит конфигурацию admin API
type Config struct {
	Port         int
	AdminKeyHash string // bcrypt; пусто - административные вызовы без ключа
	Status       StatusSource
	Tokens       TokenIssuer
	Kicker       Kicker
	Registry     Registry
}

// GenericResponse общий формат ответа
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// TokenRequest запрос токена входа
type TokenRequest struct {
	PID protocol.PID `json:"pid"`
}

// TokenResponse выданный токен
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Server admin API
type Server struct {
	router     *gin.Engine
	cfg        Config
	httpServer *http.Server
	logger     *logging.Logger
}

// NewServer собирает маршруты
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("fg_api"))
	router.Use(middleware.NewRequestLogger().Handler())

	if cfg.Registry != nil {
		promMw := middleware.NewPrometheusMiddleware("fg_api", cfg.Registry)
		router.Use(promMw.Handler())
		middleware.RegisterMetricsEndpoint(router, cfg.Registry)
	}

	s := &Server{
		router: router,
		cfg:    cfg,
		logger: logging.GetComponentLogger(logging.ComponentAPI),
	}
	if cfg.AdminKeyHash == "" {
		s.logger.Warn("admin_key_hash не задан, административные вызовы открыты")
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)

	admin := api.Group("/")
	admin.Use(s.adminMiddleware())
	{
		admin.POST("/tokens", s.handleIssueToken)
		admin.POST("/players/:pid/kick", s.handleKick)
	}
}

// Handler возвращает http.Handler маршрутов
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.cfg.Status == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: s.cfg.Status.Status()})
}

func (s *Server) handleIssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса"})
		return
	}
	if req.PID <= 0 {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "pid должен быть положительным"})
		return
	}

	token, exp, err := s.cfg.Tokens.Issue(req.PID)
	if err != nil {
		s.logger.Error("выдача токена для %d: %v", req.PID, err)
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: "Не удалось выдать токен"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data:    TokenResponse{Token: token, ExpiresAt: exp.Unix()},
	})
}

func (s *Server) handleKick(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный pid"})
		return
	}
	if s.cfg.Kicker == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "kick unavailable"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	switch err := s.cfg.Kicker.Kick(ctx, protocol.PID(pid)); {
	case err == nil:
		c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Игрок отключён"})
	case errors.Is(err, session.ErrNotActive):
		c.JSON(http.StatusNotFound, GenericResponse{Message: "Игрок не в игре"})
	default:
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: err.Error()})
	}
}

// Start запускает HTTP сервер в отдельной горутине
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ошибка admin API: %v", err)
		}
	}()
	s.logger.Info("admin API на :%d", s.cfg.Port)
}

// Stop останавливает HTTP сервер
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
