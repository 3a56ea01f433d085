package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"llmqa-console/internal/feed"
	"llmqa-console/internal/model"
	"llmqa-console/internal/qa"
	"llmqa-console/internal/service"
	"llmqa-console/internal/storage"
	"llmqa-console/internal/utils"
	"llmqa-console/pkg/logger"
)

type QAHandler struct {
	qaService *service.QAService
}

func NewQAHandler(qaService *service.QAService) *QAHandler {
	return &QAHandler{
		qaService: qaService,
	}
}

func (h *QAHandler) CreateConversation(c *gin.Context) {
	var req model.CreateConversationRequest
	// 允许空的请求体，使用默认标题
	_ = c.ShouldBindJSON(&req)

	conv, err := h.qaService.CreateConversation(req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

func (h *QAHandler) ListConversations(c *gin.Context) {
	list, err := h.qaService.ListConversations()
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]model.ConversationResponse, 0, len(list))
	for _, conv := range list {
		out = append(out, toConversationResponse(conv))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (h *QAHandler) GetConversation(c *gin.Context) {
	conv, err := h.qaService.GetConversation(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

func (h *QAHandler) DeleteConversation(c *gin.Context) {
	if err := h.qaService.DeleteConversation(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted successfully"})
}

func (h *QAHandler) Ask(c *gin.Context) {
	var req model.ConsoleAskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": qa.KindValidation})
		return
	}

	res, err := h.qaService.Ask(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResult(c, res)
}

func (h *QAHandler) Retry(c *gin.Context) {
	res, err := h.qaService.Retry(c.Request.Context(), c.Param("id"), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResult(c, res)
}

// AskStream 以 SSE 推送：status -> message(用户) -> message(回答或错误) -> scroll -> [DONE]
func (h *QAHandler) AskStream(c *gin.Context) {
	var req model.ConsoleAskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": qa.KindValidation})
		return
	}
	id := c.Param("id")
	conv, err := h.qaService.GetConversation(id)
	if err != nil {
		respondError(c, err)
		return
	}

	sseWriter := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)
	writeEvent(sseWriter, "status", gin.H{
		"type":      "processing_start",
		"message":   "开始处理您的请求...",
		"timestamp": time.Now().Unix(),
	})

	res, err := h.qaService.AskObserved(c.Request.Context(), id, req.Question, func(msg model.Message) {
		writeEvent(sseWriter, "message", msg)
	})
	if err != nil {
		kind, msg := classify(err)
		writeEvent(sseWriter, "error", gin.H{"error": msg, "kind": kind})
		sseWriter.Close()
		return
	}

	if res.Failure != nil {
		writeEvent(sseWriter, "error", gin.H{
			"error":     res.Reply.Content,
			"kind":      res.Failure.Kind,
			"status":    res.Failure.Status,
			"errno":     res.Failure.Errno,
			"retryable": res.Failure.Retryable(),
		})
	} else {
		writeEvent(sseWriter, "answer", res.Response)
	}
	if scroll, ok := conv.Feed.TakeScrollRequest(); ok {
		writeEvent(sseWriter, "scroll", scroll)
	}
	writeEvent(sseWriter, "status", gin.H{
		"type":      "processing_complete",
		"message":   "处理完成",
		"timestamp": time.Now().Unix(),
	})
	sseWriter.Close()
}

func (h *QAHandler) Clear(c *gin.Context) {
	var req model.ClearConversationRequest
	_ = c.ShouldBindJSON(&req)

	conv, err := h.qaService.ClearConversation(c.Request.Context(), c.Param("id"), service.ClearOptions{
		NewSession: req.NewSession,
		Remote:     req.Remote,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

func (h *QAHandler) GetMessages(c *gin.Context) {
	id := c.Param("id")
	messages, err := h.qaService.Messages(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": id,
		"messages":        messages,
	})
}

func (h *QAHandler) GetContext(c *gin.Context) {
	id := c.Param("id")
	conv, err := h.qaService.GetConversation(id)
	if err != nil {
		respondError(c, err)
		return
	}
	text, _ := h.qaService.Context(id)
	c.JSON(http.StatusOK, gin.H{
		"sessionId":        conv.Session.SessionID(),
		"context":          text,
		"history":          conv.Session.History(),
		"maxHistoryLength": conv.Session.MaxHistoryLength(),
	})
}

func (h *QAHandler) UpdateViewport(c *gin.Context) {
	var req model.ViewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": qa.KindValidation})
		return
	}

	vp := &feed.Viewport{
		ScrollHeight: req.ScrollHeight,
		ScrollTop:    req.ScrollTop,
		ClientHeight: req.ClientHeight,
	}
	scroll, ok, err := h.qaService.SetViewport(c.Param("id"), vp)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"pending": ok}
	if ok {
		resp["scroll"] = scroll
	}
	c.JSON(http.StatusOK, resp)
}

func (h *QAHandler) RemoteHistory(c *gin.Context) {
	turns, err := h.qaService.RemoteHistory(c.Request.Context(), c.Param("id"), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": turns})
}

func (h *QAHandler) RemoteStatistics(c *gin.Context) {
	stats, err := h.qaService.Statistics(c.Request.Context(), c.Param("id"), queryInt(c, "days"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *QAHandler) GlobalStatistics(c *gin.Context) {
	stats, err := h.qaService.Statistics(c.Request.Context(), "", queryInt(c, "days"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *QAHandler) Status(c *gin.Context) {
	status, err := h.qaService.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *QAHandler) HotQuestions(c *gin.Context) {
	questions, err := h.qaService.HotQuestions(c.Request.Context(), queryInt(c, "limit"), c.Query("category"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

// GetConfig 前端需要的配置，键名与原有的点路径一致
func (h *QAHandler) GetConfig(c *gin.Context) {
	cfg := h.qaService.Config()
	c.JSON(http.StatusOK, gin.H{
		"request": gin.H{
			"maxResults":        cfg.Request.MaxResults,
			"timeout":           h.qaService.RequestTimeout().Milliseconds(),
			"retryCount":        h.qaService.RetryCount(),
			"maxQuestionLength": cfg.Request.MaxQuestionLength,
		},
		"context": gin.H{
			"maxHistoryLength": cfg.Context.MaxHistoryLength,
			"maxMessageLength": cfg.Context.MaxMessageLength,
		},
		"ui": gin.H{
			"maxErrorMessages":    cfg.UI.MaxErrorMessages,
			"autoScrollThreshold": cfg.UI.AutoScrollThreshold,
			"enableSmoothScroll":  cfg.UI.EnableSmoothScroll,
		},
		"features": gin.H{
			"enableHotQuestions":   cfg.Features.EnableHotQuestions,
			"enableServiceCheck":   cfg.Features.EnableServiceCheck,
			"enableQuickQuestions": cfg.Features.EnableQuickQuestions,
		},
	})
}

func respondResult(c *gin.Context, res *service.AskResult) {
	if res.Failure != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"success":   false,
			"error":     res.Reply.Content,
			"kind":      res.Failure.Kind,
			"status":    res.Failure.Status,
			"errno":     res.Failure.Errno,
			"retryable": res.Failure.Retryable(),
			"result":    res,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  res,
	})
}

func respondError(c *gin.Context, err error) {
	var status int
	kind, msg := classify(err)
	switch kind {
	case "not_found":
		status = http.StatusNotFound
	case "busy", "no_pending_question":
		status = http.StatusConflict
	case "disabled":
		status = http.StatusForbidden
	case string(qa.KindValidation):
		status = http.StatusBadRequest
	case "internal":
		status = http.StatusInternalServerError
	default:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": msg, "kind": kind})
}

func classify(err error) (string, string) {
	var qe *qa.Error
	switch {
	case errors.Is(err, storage.ErrConversationNotFound):
		return "not_found", err.Error()
	case errors.Is(err, service.ErrConversationBusy):
		return "busy", "上一个问题还在处理中，请稍候"
	case errors.Is(err, service.ErrNoPendingQuestion):
		return "no_pending_question", err.Error()
	case errors.Is(err, service.ErrFeatureDisabled):
		return "disabled", err.Error()
	case errors.As(err, &qe):
		if qe.Kind == qa.KindValidation {
			return string(qe.Kind), qe.Message
		}
		return string(qe.Kind), feed.Describe(qe)
	}
	return "internal", err.Error()
}

func writeEvent(w *utils.SSEWriter, event string, v interface{}) {
	if err := w.WriteJSON(event, v); err != nil {
		logger.Errorf("Failed to write SSE: %v", err)
	}
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

func toConversationResponse(conv *storage.Conversation) model.ConversationResponse {
	return model.ConversationResponse{
		ID:           conv.ID,
		Title:        conv.Title(),
		SessionID:    conv.Session.SessionID(),
		HistoryCount: conv.Session.Len(),
		MessageCount: conv.Feed.Len(),
		Pending:      conv.PendingQuestion(),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt(),
	}
}
