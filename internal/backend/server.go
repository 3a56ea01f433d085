package backend

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"llmqa-console/internal/config"
	"llmqa-console/internal/model"
	"llmqa-console/internal/session"
	"llmqa-console/pkg/logger"
)

const (
	historyTurnsForPrompt = 5
	defaultHotLimit       = 10
	defaultStatisticsDays = 7

	msgBadArgument = "参数不正确"
	msgNoAnswer    = "AI暂时无法回答您的问题"
	msgNoSession   = "会话不存在"
)

// Server 本地开发用的问答后端，接口与商城后台 /llm/qa 保持一致
type Server struct {
	cfg      config.DevServerConfig
	answerer *Answerer
	store    *sessionStore
}

func NewServer(cfg config.DevServerConfig, answerer *Answerer) *Server {
	return &Server{
		cfg:      cfg,
		answerer: answerer,
		store:    newSessionStore(cfg.HotQuestions),
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	qa := router.Group("/llm/qa")
	{
		qa.POST("/ask", s.Ask)
		qa.GET("/session/statistics", s.GlobalStatistics)
		qa.GET("/session/:id/history", s.History)
		qa.GET("/session/:id/statistics", s.SessionStatistics)
		qa.DELETE("/session/:id", s.ClearSession)
		qa.GET("/status", s.Status)
		qa.GET("/hot-questions", s.HotQuestions)
	}
	return router
}

func (s *Server) Ask(c *gin.Context) {
	var req model.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, model.Fail(model.ErrnoBadArgument, msgBadArgument))
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusOK, model.Fail(model.ErrnoBadArgument, msgBadArgument))
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}

	ctx := c.Request.Context()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	turns := s.store.recentTurns(sessionID, historyTurnsForPrompt)
	answer, err := s.answerer.Answer(ctx, question, turns, req.Context)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"session_id": sessionID,
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Errorf("llm answer failed: %v", err)
		c.JSON(http.StatusOK, model.Fail(model.ErrnoServer, "处理请求时发生错误："+err.Error()))
		return
	}
	if answer == "" {
		c.JSON(http.StatusOK, model.Fail(model.ErrnoServer, msgNoAnswer))
		return
	}

	s.store.record(sessionID, question, answer)
	elapsed := time.Since(start).Milliseconds()
	logger.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"history":    len(turns),
		"elapsed_ms": elapsed,
	}).Info("question answered")

	c.JSON(http.StatusOK, model.OK(gin.H{
		"code":    http.StatusOK,
		"message": "成功",
		"data": model.AskReply{
			Answer:    answer,
			Goods:     []interface{}{},
			SessionID: sessionID,
			QueryTime: elapsed,
		},
	}))
}

func (s *Server) History(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 10)
	list, total := s.store.history(c.Param("id"), page, limit)
	c.JSON(http.StatusOK, model.OK(gin.H{
		"list":  list,
		"total": total,
		"page":  page,
		"limit": limit,
	}))
}

func (s *Server) SessionStatistics(c *gin.Context) {
	stats, ok := s.store.statistics(c.Param("id"))
	if !ok {
		c.JSON(http.StatusOK, model.Fail(model.ErrnoNotFound, msgNoSession))
		return
	}
	c.JSON(http.StatusOK, model.OK(stats))
}

func (s *Server) GlobalStatistics(c *gin.Context) {
	days := queryInt(c, "days", defaultStatisticsDays)
	c.JSON(http.StatusOK, model.OK(s.store.globalStatistics(days)))
}

func (s *Server) ClearSession(c *gin.Context) {
	id := c.Param("id")
	if !s.store.remove(id) {
		c.JSON(http.StatusOK, model.Fail(model.ErrnoNotFound, msgNoSession))
		return
	}
	logger.Infof("session %s cleared", id)
	c.JSON(http.StatusOK, model.OK(gin.H{"sessionId": id}))
}

func (s *Server) Status(c *gin.Context) {
	c.JSON(http.StatusOK, model.OK(gin.H{
		"service":       "running",
		"llm_service":   "available",
		"session_count": s.store.count(),
		"provider":      s.cfg.Provider,
		"model":         s.cfg.Model,
	}))
}

// HotQuestions category 参数暂不区分
func (s *Server) HotQuestions(c *gin.Context) {
	limit := queryInt(c, "limit", defaultHotLimit)
	c.JSON(http.StatusOK, model.OK(s.store.hotQuestions(limit)))
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
