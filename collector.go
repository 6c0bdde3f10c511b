package applogger

import (
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// CollectorConfig configures the reference collector.
type CollectorConfig struct {
	DBPath   string
	APIToken string // When empty every client is accepted
	Port     int
	Logger   *slog.Logger
}

// Collector is a gin server implementing the collector side of the protocol:
// session handshake, record ingestion and session end, plus a paginated view.
type Collector struct {
	store    *Store
	apiToken string
	port     int
	logger   *slog.Logger
	engine   *gin.Engine
}

func NewCollector(config CollectorConfig) (*Collector, error) {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Logger == nil {
		config.Logger = slog.Default().With("service", "applogger-collector")
	}

	store, err := OpenStore(config.DBPath)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		store:    store,
		apiToken: config.APIToken,
		port:     config.Port,
		logger:   config.Logger,
	}
	c.engine = c.routes()
	return c, nil
}

func (c *Collector) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), decompressBody())

	api := r.Group("/Api")
	api.POST("/StartSession", c.handleStartSession)
	api.POST("/Log", c.requireToken, c.handleLog)
	api.POST("/EndSession", c.requireToken, c.handleEndSession)
	api.GET("/Logs", c.requireToken, c.handleLogs)
	r.GET("/health", c.handleHealth)

	return r
}

// Handler exposes the collector's routes, e.g. for httptest.
func (c *Collector) Handler() http.Handler {
	return c.engine
}

func (c *Collector) Store() *Store {
	return c.store
}

func (c *Collector) Start() error {
	c.logger.Info("collector listening", "port", c.port)
	return c.engine.Run(fmt.Sprintf(":%d", c.port))
}

func (c *Collector) Close() error {
	return c.store.Close()
}

func decompressBody() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !strings.EqualFold(ctx.GetHeader("Content-Encoding"), "gzip") {
			ctx.Next()
			return
		}
		zr, err := gzip.NewReader(ctx.Request.Body)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid gzip body"})
			return
		}
		defer zr.Close()
		ctx.Request.Body = io.NopCloser(zr)
		ctx.Request.Header.Del("Content-Encoding")
		ctx.Next()
	}
}

func (c *Collector) tokenMatches(token string) bool {
	if c.apiToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.apiToken)) == 1
}

func bearerToken(ctx *gin.Context) string {
	return strings.TrimSpace(strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer "))
}

func (c *Collector) requireToken(ctx *gin.Context) {
	if !c.tokenMatches(bearerToken(ctx)) {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API token"})
		return
	}
	ctx.Next()
}

func (c *Collector) handleStartSession(ctx *gin.Context) {
	var req StartSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return
	}

	if !c.tokenMatches(req.Secret) && !c.tokenMatches(bearerToken(ctx)) {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API token"})
		return
	}

	id := uuid.NewString()
	if err := c.store.CreateSession(id, req.AppName, req.Device); err != nil {
		c.logger.Error("failed to create session", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.logger.Info("session started", "session_id", id, "app", req.AppName, "device_id", req.Device.DeviceID)
	ctx.JSON(http.StatusOK, id)
}

func (c *Collector) handleLog(ctx *gin.Context) {
	var record Record
	if err := ctx.ShouldBindJSON(&record); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return
	}

	if record.SessionID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Session id is required"})
		return
	}

	open, err := c.store.SessionOpen(record.SessionID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up session"})
		return
	}
	if !open {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Unknown or closed session"})
		return
	}

	if err := c.store.InsertRecords([]Record{record}); err != nil {
		c.logger.Error("failed to store record", "session_id", record.SessionID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store record"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (c *Collector) handleEndSession(ctx *gin.Context) {
	var req EndSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Session id is required"})
		return
	}

	ended, err := c.store.EndSession(req.SessionID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end session"})
		return
	}
	if !ended {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Unknown or closed session"})
		return
	}

	c.logger.Info("session ended", "session_id", req.SessionID)
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (c *Collector) handleHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"port":   c.port,
	})
}

type LogsResponse struct {
	Records    []Record `json:"records"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
}

func (c *Collector) handleLogs(ctx *gin.Context) {
	page, err := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(ctx.DefaultQuery("page_size", "10"))
	if err != nil || pageSize < 1 || pageSize > 1000 {
		pageSize = 10
	}

	offset := (page - 1) * pageSize

	records, total, err := c.store.GetRecords(ctx.Query("session_id"), pageSize, offset)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve records"})
		return
	}
	if records == nil {
		records = []Record{}
	}

	ctx.JSON(http.StatusOK, LogsResponse{
		Records:    records,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	})
}
