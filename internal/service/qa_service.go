package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"llmqa-console/internal/config"
	"llmqa-console/internal/feed"
	"llmqa-console/internal/model"
	"llmqa-console/internal/observability"
	"llmqa-console/internal/qa"
	"llmqa-console/internal/session"
	"llmqa-console/internal/storage"
	"llmqa-console/pkg/logger"
)

var (
	ErrConversationBusy  = errors.New("conversation already has a question in flight")
	ErrNoPendingQuestion = errors.New("no failed question to retry")
	ErrFeatureDisabled   = errors.New("feature disabled")
)

const defaultTitlePrefix = "新对话"

// QAClient 远端问答服务，*qa.Client 实现了它
type QAClient interface {
	Ask(ctx context.Context, p qa.AskParams) (*model.NormalizedResponse, error)
	SessionHistory(ctx context.Context, sessionID string, page, limit int) ([]model.Turn, error)
	SessionStatistics(ctx context.Context, sessionID string, days int) (map[string]interface{}, error)
	ClearSession(ctx context.Context, sessionID string) error
	ServiceStatus(ctx context.Context) (map[string]interface{}, error)
	HotQuestions(ctx context.Context, limit int, category string) ([]string, error)
	MaxQuestionLength() int
	Timeout() time.Duration
	RetryCount() int
}

// AskResult 一次提问的结果。请求失败不作为 error 返回，而是放在 Failure 里
type AskResult struct {
	Question    string                    `json:"question"`
	SessionID   string                    `json:"sessionId"`
	Response    *model.NormalizedResponse `json:"response,omitempty"`
	UserMessage *model.Message            `json:"userMessage,omitempty"`
	Reply       model.Message             `json:"reply"`
	Failure     *qa.Error                 `json:"-"`
}

func (r *AskResult) Succeeded() bool {
	return r.Failure == nil
}

type ClearOptions struct {
	NewSession bool
	Remote     bool
}

type QAService struct {
	storage storage.Storage
	client  QAClient
	metrics *observability.Metrics
	cfg     *config.Config

	stopOnce sync.Once
	stop     chan struct{}
}

func NewQAService(cfg *config.Config, client QAClient, store storage.Storage, metrics *observability.Metrics) *QAService {
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize storage, falling back to memory: %v", err)
		store = storage.NewMemoryStorage()
		if err := store.Init(); err != nil {
			logger.Errorf("Failed to initialize memory storage: %v", err)
		}
	}
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	s := &QAService{
		storage: store,
		client:  client,
		metrics: metrics,
		cfg:     cfg,
		stop:    make(chan struct{}),
	}

	if cfg.Session.CleanupInterval > 0 && cfg.Session.TTL > 0 {
		go s.cleanupExpiredConversations()
	}
	return s
}

func (s *QAService) Metrics() *observability.Metrics {
	return s.metrics
}

func (s *QAService) Config() *config.Config {
	return s.cfg
}

// RequestTimeout 客户端实际生效的超时（已按上限截断）
func (s *QAService) RequestTimeout() time.Duration {
	return s.client.Timeout()
}

func (s *QAService) RetryCount() int {
	return s.client.RetryCount()
}

// Close 停止清理任务并释放存储
func (s *QAService) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.storage.Close()
}

func (s *QAService) CreateConversation(title string) (*storage.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitlePrefix + " " + time.Now().Format("2006-01-02 15:04")
	}

	conv := storage.NewConversation(
		uuid.New().String(),
		title,
		session.NewManager(s.cfg.Context.MaxHistoryLength),
		feed.New(s.cfg.UI),
	)
	if err := s.storage.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.refreshGauge()

	logger.WithFields(map[string]interface{}{
		"conversation_id": conv.ID,
	}).Info("conversation created")
	return conv, nil
}

func (s *QAService) GetConversation(id string) (*storage.Conversation, error) {
	conv, err := s.storage.GetConversation(id)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *QAService) ListConversations() ([]*storage.Conversation, error) {
	list, err := s.storage.ListConversations()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return list, nil
}

func (s *QAService) DeleteConversation(id string) error {
	if err := s.storage.DeleteConversation(id); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return fmt.Errorf("%w: %s", storage.ErrConversationNotFound, id)
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.refreshGauge()
	return nil
}

// Ask 见 AskObserved
func (s *QAService) Ask(ctx context.Context, id, question string) (*AskResult, error) {
	return s.AskObserved(ctx, id, question, nil)
}

// AskObserved 提问一次。onMessage 在每条消息进入消息流时被调用（用户消息、回答或错误）。
// 返回 error 只有三种情况：会话不存在、问题校验失败、会话正在提问。
func (s *QAService) AskObserved(ctx context.Context, id, question string, onMessage func(model.Message)) (*AskResult, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return nil, err
	}
	q, err := qa.ValidateQuestion(question, s.client.MaxQuestionLength())
	if err != nil {
		return nil, err
	}
	if !conv.TryBeginAsk() {
		return nil, ErrConversationBusy
	}
	defer conv.EndAsk()

	s.retitle(conv, q)
	user := conv.Feed.AppendUser(q)
	notify(onMessage, user)

	result := s.send(ctx, conv, q, onMessage)
	result.UserMessage = &user
	return result, nil
}

// Retry 重新发送上一次失败的问题，不会重复追加用户消息
func (s *QAService) Retry(ctx context.Context, id string, onMessage func(model.Message)) (*AskResult, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return nil, err
	}
	if !conv.TryBeginAsk() {
		return nil, ErrConversationBusy
	}
	defer conv.EndAsk()

	q := conv.PendingQuestion()
	if q == "" {
		return nil, ErrNoPendingQuestion
	}
	return s.send(ctx, conv, q, onMessage), nil
}

func (s *QAService) send(ctx context.Context, conv *storage.Conversation, question string, onMessage func(model.Message)) *AskResult {
	sessionID := conv.Session.EnsureSession()
	result := &AskResult{Question: question, SessionID: sessionID}

	start := time.Now()
	resp, err := s.client.Ask(ctx, qa.AskParams{
		Question:   question,
		SessionID:  sessionID,
		Context:    truncateTail(conv.Session.BuildContext(), s.cfg.Context.MaxMessageLength),
		MaxResults: s.cfg.Request.MaxResults,
	})
	elapsed := time.Since(start)

	if err != nil {
		qe := qa.AsError(err)
		before := conv.Feed.ErrorCount()
		result.Reply = conv.Feed.HandleRequestError(qe)
		result.Failure = qe
		conv.SetPendingQuestion(question)

		if conv.Feed.ErrorCount() == before {
			s.metrics.FeedErrorsEvicted.Inc()
		}
		s.metrics.ObserveAsk("failure", elapsed)
		s.metrics.ObserveFailure(string(qe.Kind))
		logger.WithFields(map[string]interface{}{
			"conversation_id": conv.ID,
			"session_id":      sessionID,
			"kind":            qe.Kind,
			"elapsed_ms":      elapsed.Milliseconds(),
		}).Warn("question failed")

		notify(onMessage, result.Reply)
		return result
	}

	if conv.Session.AdoptSessionID(resp.SessionID) {
		result.SessionID = resp.SessionID
	}
	conv.Session.RecordTurn(question, resp.Answer)
	conv.SetPendingQuestion("")
	result.Response = resp
	result.Reply = conv.Feed.AppendAssistant(resp.Answer)

	s.metrics.ObserveAsk("success", elapsed)
	logger.WithFields(map[string]interface{}{
		"conversation_id": conv.ID,
		"session_id":      result.SessionID,
		"elapsed_ms":      elapsed.Milliseconds(),
		"from_cache":      resp.FromCache,
	}).Info("question answered")

	notify(onMessage, result.Reply)
	return result
}

// ClearConversation 清空历史和消息流。Remote 为 true 时先清理远端会话，失败则本地保持不变
func (s *QAService) ClearConversation(ctx context.Context, id string, opts ClearOptions) (*storage.Conversation, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return nil, err
	}
	if !conv.TryBeginAsk() {
		return nil, ErrConversationBusy
	}
	defer conv.EndAsk()

	if sid := conv.Session.SessionID(); opts.Remote && sid != "" {
		if err := s.client.ClearSession(ctx, sid); err != nil {
			// 后端从未记录过这个会话（例如每次提问都失败了），视为已清理
			if qe := qa.AsError(err); qe.Kind != qa.KindServer || qe.Errno != model.ErrnoNotFound {
				return nil, fmt.Errorf("failed to clear remote session %s: %w", sid, err)
			}
			logger.Infof("remote session %s not found, treated as cleared", sid)
		}
	}

	conv.Session.Clear()
	if opts.NewSession {
		conv.Session.CreateSession()
	}
	conv.Feed.Clear()
	conv.SetPendingQuestion("")
	return conv, nil
}

func (s *QAService) SetViewport(id string, vp *feed.Viewport) (feed.ScrollRequest, bool, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return feed.ScrollRequest{}, false, err
	}
	conv.Feed.SetViewport(vp)
	conv.Touch()
	req, ok := conv.Feed.TakeScrollRequest()
	return req, ok, nil
}

func (s *QAService) Messages(id string) ([]model.Message, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return nil, err
	}
	return conv.Feed.Messages(), nil
}

// Context 返回下一次提问会携带的上下文
func (s *QAService) Context(id string) (string, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return "", err
	}
	return truncateTail(conv.Session.BuildContext(), s.cfg.Context.MaxMessageLength), nil
}

func (s *QAService) RemoteHistory(ctx context.Context, id string, page, limit int) ([]model.Turn, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return nil, err
	}
	sid := conv.Session.SessionID()
	if sid == "" {
		return []model.Turn{}, nil
	}
	return s.client.SessionHistory(ctx, sid, page, limit)
}

// Statistics id 为空时查询全局统计
func (s *QAService) Statistics(ctx context.Context, id string, days int) (map[string]interface{}, error) {
	if id == "" {
		return s.client.SessionStatistics(ctx, "", days)
	}
	conv, err := s.GetConversation(id)
	if err != nil {
		return nil, err
	}
	sid := conv.Session.SessionID()
	if sid == "" {
		return map[string]interface{}{}, nil
	}
	return s.client.SessionStatistics(ctx, sid, days)
}

func (s *QAService) Status(ctx context.Context) (map[string]interface{}, error) {
	if !s.cfg.Features.EnableServiceCheck {
		return nil, fmt.Errorf("%w: service check", ErrFeatureDisabled)
	}
	return s.client.ServiceStatus(ctx)
}

func (s *QAService) HotQuestions(ctx context.Context, limit int, category string) ([]string, error) {
	if !s.cfg.Features.EnableHotQuestions {
		return nil, fmt.Errorf("%w: hot questions", ErrFeatureDisabled)
	}
	return s.client.HotQuestions(ctx, limit, category)
}

// retitle 第一条问题替换默认标题
func (s *QAService) retitle(conv *storage.Conversation, question string) {
	if conv.Feed.Len() == 0 && strings.HasPrefix(conv.Title(), defaultTitlePrefix) {
		conv.SetTitle(truncateString(question, 30))
	}
}

func (s *QAService) cleanupExpiredConversations() {
	ticker := time.NewTicker(s.cfg.Session.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			removed, err := s.storage.PurgeIdle(time.Now().Add(-s.cfg.Session.TTL))
			if err != nil {
				logger.Errorf("Failed to purge expired conversations: %v", err)
				continue
			}
			for _, id := range removed {
				logger.Infof("Cleaned up expired conversation: %s", id)
			}
			s.refreshGauge()
		}
	}
}

func (s *QAService) refreshGauge() {
	list, err := s.storage.ListConversations()
	if err != nil {
		return
	}
	s.metrics.ActiveConversations.Set(float64(len(list)))
}

func notify(fn func(model.Message), msg model.Message) {
	if fn != nil {
		fn(msg)
	}
}

func truncateString(str string, maxLen int) string {
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	return string(runes[:maxLen]) + "..."
}

// truncateTail 超长时保留最近的 maxLen 个字符
func truncateTail(str string, maxLen int) string {
	if maxLen <= 0 {
		return str
	}
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	return string(runes[len(runes)-maxLen:])
}
