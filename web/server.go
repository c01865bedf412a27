package web

import (
	"EdgeScan/engine"
	iface "EdgeScan/interface"
	"EdgeScan/pipeline"
	"EdgeScan/store"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Pipeline is the read side of pipeline.Driver.
type Pipeline interface {
	Stats() pipeline.Stats
	Latest() (pipeline.Result, bool)
	Subscribe() (<-chan pipeline.Result, func())
}

type FrameProvider interface {
	LatestJPEG() ([]byte, uint64, bool)
}

type History interface {
	Recent(ctx context.Context, label string, limit int) ([]store.Record, error)
}

type Snapshotter interface {
	Save(frame iface.Frame) (string, error)
}

// Engine reports the loaded model; engine.Detector implements it.
type Engine interface {
	CheckConfig() engine.EngineConfig
}

type Server struct {
	Pipeline  Pipeline
	Engine    Engine
	Frames    FrameProvider
	History   History
	Snapshots Snapshotter
	// Requests, when set, counts served requests by route and status code.
	Requests *prometheus.CounterVec
	Log      *zap.Logger
	// ConnectTimeout releases sessions whose websocket never connects.
	ConnectTimeout time.Duration

	sessionMu sync.RWMutex
	sessions  map[string]*session
	upgrader  websocket.Upgrader
}

type session struct {
	id          string
	created     time.Time
	conn        *websocket.Conn
	closeOnce   sync.Once
	cancelTimer chan struct{}
	cancelOnce  sync.Once
}

func NewServer(p Pipeline, eng Engine, log *zap.Logger) *Server {
	return &Server{
		Pipeline:       p,
		Engine:         eng,
		Log:            log.Named("web"),
		ConnectTimeout: 5 * time.Second,
		sessions:       map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.Requests != nil {
		r.Use(func(c *gin.Context) {
			c.Next()
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			s.Requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		})
	}
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", s.status)
	r.GET("/api/detections", s.detections)
	r.GET("/api/history", s.history)
	r.GET("/api/frame.jpg", s.frame)
	r.POST("/api/snapshot", s.snapshot)
	r.POST("/api/sessions", s.allocSession)
	r.POST("/api/sessions/:sessionID/release", func(c *gin.Context) {
		if !s.releaseSession(c.Param("sessionID"), "released") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Session released"})
	})
	r.GET("/ws/:sessionID", s.watch)
	r.GET("/ws", func(c *gin.Context) {
		s.serve(c, s.newSession())
	})
	return r
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"pipeline": s.Pipeline.Stats(),
		"model":    s.Engine.CheckConfig(),
	}})
}

func (s *Server) detections(c *gin.Context) {
	r, ok := s.Pipeline.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No result yet"})
		return
	}
	if r.Detections == nil {
		r.Detections = []iface.Detection{}
	}
	c.JSON(http.StatusOK, gin.H{"data": r})
}

func (s *Server) history(c *gin.Context) {
	if s.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Detection log disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	records, err := s.History.Recent(c.Request.Context(), c.Query("label"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) frame(c *gin.Context) {
	if s.Frames == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Frame stream disabled"})
		return
	}
	data, seq, ok := s.Frames.LatestJPEG()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No frame yet"})
		return
	}
	c.Header("X-Frame-Seq", strconv.FormatUint(seq, 10))
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) snapshot(c *gin.Context) {
	if s.Snapshots == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Snapshots disabled"})
		return
	}
	r, ok := s.Pipeline.Latest()
	if !ok || r.Frame.Empty() {
		c.JSON(http.StatusConflict, gin.H{"error": "No frame yet"})
		return
	}
	path, err := s.Snapshots.Save(r.Frame)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.Log.Info("Snapshot saved", zap.String("path", path), zap.Uint64("seq", r.Seq))
	c.JSON(http.StatusOK, gin.H{"data": path})
}

func (s *Server) newSession() *session {
	sess := &session{
		id:          uuid.New().String(),
		created:     time.Now(),
		cancelTimer: make(chan struct{}),
	}
	s.sessionMu.Lock()
	s.sessions[sess.id] = sess
	s.sessionMu.Unlock()
	return sess
}

func (s *Server) allocSession(c *gin.Context) {
	sess := s.newSession()
	s.startConnectTimer(sess)
	c.JSON(http.StatusOK, gin.H{
		"sessionID": sess.id,
		"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, sess.id),
		"timeoutMs": s.ConnectTimeout.Milliseconds(),
	})
}

func (s *Server) startConnectTimer(sess *session) {
	go func() {
		timer := time.NewTimer(s.ConnectTimeout)
		defer timer.Stop()
		select {
		case <-sess.cancelTimer:
		case <-timer.C:
			if s.releaseSession(sess.id, "not connected in time") {
				s.Log.Debug("Session expired", zap.String("session", sess.id))
			}
		}
	}()
}

func (s *Server) releaseSession(id, reason string) bool {
	s.sessionMu.Lock()
	sess, ok := s.sessions[id]
	var conn *websocket.Conn
	if ok {
		delete(s.sessions, id)
		conn = sess.conn
	}
	s.sessionMu.Unlock()
	if !ok {
		return false
	}
	sess.closeOnce.Do(func() {
		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
	sess.cancelOnce.Do(func() {
		close(sess.cancelTimer)
	})
	return true
}

func (s *Server) watch(c *gin.Context) {
	s.sessionMu.RLock()
	sess, exists := s.sessions[c.Param("sessionID")]
	s.sessionMu.RUnlock()
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	s.serve(c, sess)
}

// serve streams every pipeline result to the session as JSON text messages.
func (s *Server) serve(c *gin.Context, sess *session) {
	id := sess.id
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.releaseSession(id, "upgrade failed")
		return
	}
	s.sessionMu.Lock()
	_, live := s.sessions[id]
	sess.conn = conn
	s.sessionMu.Unlock()
	if !live {
		_ = conn.Close()
		return
	}
	sess.cancelOnce.Do(func() { close(sess.cancelTimer) })

	results, cancel := s.Pipeline.Subscribe()
	defer cancel()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			s.releaseSession(id, "client closed")
			return
		case r, ok := <-results:
			if !ok {
				s.releaseSession(id, "pipeline stopped")
				return
			}
			if r.Detections == nil {
				r.Detections = []iface.Detection{}
			}
			if err := conn.WriteJSON(r); err != nil {
				s.releaseSession(id, "write failed")
				return
			}
		}
	}
}

// Start serves on port until ctx is done.
func (s *Server) Start(ctx context.Context, port int) *http.Server {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error("Web server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.Log.Info("Web server listening", zap.Int("port", port))
	return srv
}
