// Package httpapi exposes a bptree index over a JSON HTTP API.
package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/oda/bpindex/pkg/bptree"
)

// Response is a generic JSON response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Opener opens the index named by an open request.
type Opener func(path string, backend bptree.Backend) (*bptree.Tree, error)

// Server holds the open tree and provides HTTP handlers.
// The tree is not safe for concurrent use, so every handler holds mu.
type Server struct {
	mu   sync.Mutex
	tree *bptree.Tree
	open Opener
	log  *zap.Logger
}

// New returns a server for tree, which may be nil until a client opens one.
func New(tree *bptree.Tree, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{tree: tree, log: log}
	s.open = func(path string, backend bptree.Backend) (*bptree.Tree, error) {
		return bptree.Open(path, bptree.WithBackend(backend), bptree.WithLogger(log))
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log), cors())

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/open", s.handleOpen)
	api.POST("/close", s.handleClose)
	api.GET("/find", s.handleFind)
	api.POST("/insert", s.handleInsert)
	api.DELETE("/delete", s.handleDelete)
	api.GET("/scan", s.handleScan)
	api.GET("/count", s.handleCount)
	api.GET("/stats", s.handleStats)
	api.POST("/verify", s.handleVerify)
	api.POST("/checkpoint", s.handleCheckpoint)
	api.POST("/benchmark", s.handleBenchmark)

	return r
}

// Close closes the open tree, if any.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree == nil {
		return nil
	}
	err := s.tree.Close()
	s.tree = nil
	return err
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Error: msg})
}

// failErr reports an engine error. Corruption and I/O failures are server
// errors; anything else is the client's.
func (s *Server) failErr(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, bptree.ErrClosed) {
		status = http.StatusConflict
	}
	s.log.Error(op+" failed", zap.Error(err))
	fail(c, status, op+" failed: "+err.Error())
}

// withTree runs fn with the lock held, or answers 400 when nothing is open.
func (s *Server) withTree(c *gin.Context, fn func(t *bptree.Tree)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree == nil {
		fail(c, http.StatusBadRequest, "no database open")
		return
	}
	fn(s.tree)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
