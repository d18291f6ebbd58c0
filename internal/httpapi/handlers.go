package httpapi

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oda/bpindex/pkg/bptree"
)

// StatusResponse contains database status information.
type StatusResponse struct {
	Connected bool   `json:"connected"`
	Path      string `json:"path,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Count     int    `json:"count"`
}

// KeyValue represents one stored pair.
type KeyValue struct {
	Key   string `json:"key"`
	Value int32  `json:"value"`
}

// FindResult lists the values of one key.
type FindResult struct {
	Key    string  `json:"key"`
	Values []int32 `json:"values"`
}

// ScanResult contains the results of a range scan.
type ScanResult struct {
	Items []KeyValue `json:"items"`
	Count int        `json:"count"`
}

// InsertRequest is the request body for insert.
type InsertRequest struct {
	Key   string `json:"key" binding:"required"`
	Value *int32 `json:"value" binding:"required"`
}

// OpenRequest is the request body for opening a database.
type OpenRequest struct {
	Path    string `json:"path" binding:"required_unless=Backend memory"`
	Backend string `json:"backend" binding:"omitempty,oneof=file mmap memory"`
}

type keyQuery struct {
	Key string `form:"key" binding:"required"`
}

type pairQuery struct {
	Key   string `form:"key" binding:"required"`
	Value *int32 `form:"value" binding:"required"`
}

type rangeQuery struct {
	Start string `form:"start" binding:"required"`
	End   string `form:"end" binding:"required"`
}

// BenchmarkRequest is the request body for benchmark operations.
type BenchmarkRequest struct {
	Count    int   `json:"count" binding:"omitempty,min=1,max=1000000"` // Number of operations
	KeyRange int64 `json:"keyRange" binding:"omitempty,min=1"`          // Distinct keys to draw from
}

// BenchmarkResult contains benchmark timing results.
type BenchmarkResult struct {
	InsertCount     int     `json:"insertCount"`
	InsertTotalMs   float64 `json:"insertTotalMs"`
	InsertAvgUs     float64 `json:"insertAvgUs"`
	InsertOpsPerSec float64 `json:"insertOpsPerSec"`
	SearchCount     int     `json:"searchCount"`
	SearchTotalMs   float64 `json:"searchTotalMs"`
	SearchAvgUs     float64 `json:"searchAvgUs"`
	SearchOpsPerSec float64 `json:"searchOpsPerSec"`
	SearchHitRate   float64 `json:"searchHitRate"`
	FinalCount      int     `json:"finalCount"`
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusResponse{Connected: s.tree != nil}
	if s.tree != nil {
		count, err := s.tree.Count()
		if err != nil {
			s.failErr(c, "count", err)
			return
		}
		status.Path = s.tree.Path()
		status.Backend = string(s.tree.Backend())
		status.Count = count
	}
	ok(c, status)
}

func (s *Server) handleOpen(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Backend == "" {
		req.Backend = string(bptree.BackendFile)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Close existing tree if open
	if s.tree != nil {
		if err := s.tree.Close(); err != nil {
			s.log.Warn("closing previous index failed", zap.Error(err))
		}
		s.tree = nil
	}

	tree, err := s.open(req.Path, bptree.Backend(req.Backend))
	if err != nil {
		s.failErr(c, "open", err)
		return
	}
	s.tree = tree

	count, err := tree.Count()
	if err != nil {
		s.failErr(c, "count", err)
		return
	}
	s.log.Info("index opened", zap.String("path", req.Path), zap.String("backend", req.Backend))
	ok(c, StatusResponse{
		Connected: true,
		Path:      req.Path,
		Backend:   req.Backend,
		Count:     count,
	})
}

func (s *Server) handleClose(c *gin.Context) {
	s.withTree(c, func(t *bptree.Tree) {
		s.tree = nil
		if err := t.Close(); err != nil {
			s.failErr(c, "close", err)
			return
		}
		ok(c, nil)
	})
}

func (s *Server) handleFind(c *gin.Context) {
	var q keyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "key is required")
		return
	}

	s.withTree(c, func(t *bptree.Tree) {
		values, err := t.Find(q.Key)
		if err != nil {
			s.failErr(c, "find", err)
			return
		}
		ok(c, FindResult{Key: q.Key, Values: values})
	})
}

func (s *Server) handleInsert(c *gin.Context) {
	var req InsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	s.withTree(c, func(t *bptree.Tree) {
		if err := t.Insert(req.Key, *req.Value); err != nil {
			s.failErr(c, "insert", err)
			return
		}
		ok(c, KeyValue{Key: req.Key, Value: *req.Value})
	})
}

func (s *Server) handleDelete(c *gin.Context) {
	var q pairQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "key and value are required: "+err.Error())
		return
	}

	s.withTree(c, func(t *bptree.Tree) {
		deleted, err := t.Delete(q.Key, *q.Value)
		if err != nil {
			s.failErr(c, "delete", err)
			return
		}
		ok(c, map[string]bool{"deleted": deleted})
	})
}

func (s *Server) handleScan(c *gin.Context) {
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "start and end are required")
		return
	}

	s.withTree(c, func(t *bptree.Tree) {
		items := []KeyValue{}
		err := t.Scan(q.Start, q.End, func(e bptree.Entry) bool {
			items = append(items, KeyValue{Key: e.Key, Value: e.Value})
			return true
		})
		if err != nil {
			s.failErr(c, "scan", err)
			return
		}
		ok(c, ScanResult{Items: items, Count: len(items)})
	})
}

func (s *Server) handleCount(c *gin.Context) {
	s.withTree(c, func(t *bptree.Tree) {
		count, err := t.Count()
		if err != nil {
			s.failErr(c, "count", err)
			return
		}
		ok(c, map[string]int{"count": count})
	})
}

func (s *Server) handleStats(c *gin.Context) {
	s.withTree(c, func(t *bptree.Tree) {
		st, err := t.Stats()
		if err != nil {
			s.failErr(c, "stats", err)
			return
		}
		ok(c, st)
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	s.withTree(c, func(t *bptree.Tree) {
		if err := t.Verify(); err != nil {
			s.failErr(c, "verify", err)
			return
		}
		digest, err := t.Digest()
		if err != nil {
			s.failErr(c, "digest", err)
			return
		}
		ok(c, map[string]string{"digest": fmt.Sprintf("%016x", digest)})
	})
}

func (s *Server) handleCheckpoint(c *gin.Context) {
	s.withTree(c, func(t *bptree.Tree) {
		if err := t.Sync(); err != nil {
			s.failErr(c, "checkpoint", err)
			return
		}
		ok(c, nil)
	})
}

func (s *Server) handleBenchmark(c *gin.Context) {
	var req BenchmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Count == 0 {
		req.Count = 10000
	}
	if req.KeyRange == 0 {
		req.KeyRange = 1000000
	}

	s.withTree(c, func(t *bptree.Tree) {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))

		keys := make([]string, req.Count)
		for i := range keys {
			keys[i] = fmt.Sprintf("bench%010d", rng.Int63n(req.KeyRange))
		}

		insertStart := time.Now()
		for i, key := range keys {
			if err := t.Insert(key, int32(i)); err != nil {
				s.failErr(c, fmt.Sprintf("insert %d", i), err)
				return
			}
		}
		insertDuration := time.Since(insertStart)

		hits := 0
		searchStart := time.Now()
		for _, key := range keys {
			values, err := t.Find(key)
			if err != nil {
				s.failErr(c, "find", err)
				return
			}
			if len(values) > 0 {
				hits++
			}
		}
		searchDuration := time.Since(searchStart)

		count, err := t.Count()
		if err != nil {
			s.failErr(c, "count", err)
			return
		}

		n := float64(req.Count)
		ok(c, BenchmarkResult{
			InsertCount:     req.Count,
			InsertTotalMs:   float64(insertDuration.Microseconds()) / 1000.0,
			InsertAvgUs:     float64(insertDuration.Microseconds()) / n,
			InsertOpsPerSec: perSecond(n, insertDuration),
			SearchCount:     req.Count,
			SearchTotalMs:   float64(searchDuration.Microseconds()) / 1000.0,
			SearchAvgUs:     float64(searchDuration.Microseconds()) / n,
			SearchOpsPerSec: perSecond(n, searchDuration),
			SearchHitRate:   float64(hits) / n * 100,
			FinalCount:      count,
		})
	})
}

func perSecond(n float64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return n / d.Seconds()
}
