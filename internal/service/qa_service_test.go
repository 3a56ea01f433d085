package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"llmqa-console/internal/config"
	"llmqa-console/internal/feed"
	"llmqa-console/internal/model"
	"llmqa-console/internal/qa"
	"llmqa-console/internal/storage"
)

func newBackendService(t *testing.T, h http.HandlerFunc, mutate func(*config.Config)) *QAService {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.QA.BaseURL = srv.URL
	cfg.Session.CleanupInterval = 0
	if mutate != nil {
		mutate(cfg)
	}
	svc := NewQAService(cfg, qa.NewClient(cfg.QA, cfg.Request), nil, nil)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func answerHandler(answer, sessionID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errno":  0,
			"errmsg": "成功",
			"data": map[string]interface{}{
				"data": map[string]interface{}{"answer": answer, "goods": []interface{}{}, "sessionId": sessionID},
			},
		})
	}
}

func TestAskSuccessRecordsTurnAndAppendsTwoMessages(t *testing.T) {
	svc := newBackendService(t, answerHandler(" 在“我的订单”页面查看 ", "s1"), nil)
	conv, err := svc.CreateConversation("")
	if err != nil {
		t.Fatal(err)
	}

	before := conv.Feed.Len()
	res, err := svc.Ask(context.Background(), conv.ID, "订单在哪里查询?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("unexpected failure: %v", res.Failure)
	}
	want := &model.NormalizedResponse{Answer: "在“我的订单”页面查看", RelatedItems: []interface{}{}, SessionID: "s1"}
	got, _ := json.Marshal(res.Response)
	exp, _ := json.Marshal(want)
	if string(got) != string(exp) {
		t.Fatalf("response = %s, want %s", got, exp)
	}
	if delta := conv.Feed.Len() - before; delta != 2 {
		t.Fatalf("feed grew by %d, want 2", delta)
	}
	msgs := conv.Feed.Messages()
	if msgs[0].Type != model.MessageUser || msgs[1].Type != model.MessageAssistant {
		t.Fatalf("message types = %s, %s", msgs[0].Type, msgs[1].Type)
	}
	if conv.Session.Len() != 1 {
		t.Fatalf("history len = %d, want 1", conv.Session.Len())
	}
	if conv.Session.SessionID() != "s1" {
		t.Fatalf("session id = %q, want adopted s1", conv.Session.SessionID())
	}
	if conv.Title() != "订单在哪里查询?" {
		t.Fatalf("title = %q", conv.Title())
	}
	if n := testutil.ToFloat64(svc.Metrics().Asks.WithLabelValues("success")); n != 1 {
		t.Fatalf("success metric = %v", n)
	}
}

func TestAskTimeoutAppendsOneErrorAndKeepsHistory(t *testing.T) {
	svc := newBackendService(t, func(w http.ResponseWriter, r *http.Request) {
		// 先读完请求体，服务端才能感知客户端断开
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}, func(c *config.Config) { c.Request.Timeout = 50 * time.Millisecond })
	conv, _ := svc.CreateConversation("")

	res, err := svc.Ask(context.Background(), conv.ID, "订单在哪里查询?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.Failure == nil || res.Failure.Kind != qa.KindTimeout {
		t.Fatalf("failure = %+v, want timeout", res.Failure)
	}
	if conv.Feed.ErrorCount() != 1 {
		t.Fatalf("error count = %d, want 1", conv.Feed.ErrorCount())
	}
	if res.Reply.Content != "请求超时，请检查网络连接" {
		t.Fatalf("reply = %q", res.Reply.Content)
	}
	if conv.Session.Len() != 0 {
		t.Fatalf("history len = %d, want 0", conv.Session.Len())
	}
	if conv.Feed.Len() != 2 {
		t.Fatalf("feed len = %d, want user + error", conv.Feed.Len())
	}
	if conv.PendingQuestion() != "订单在哪里查询?" {
		t.Fatalf("pending = %q", conv.PendingQuestion())
	}
}

func TestAskValidationLeavesStateUntouched(t *testing.T) {
	var calls int32
	svc := newBackendService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}, nil)
	conv, _ := svc.CreateConversation("")

	_, err := svc.Ask(context.Background(), conv.ID, strings.Repeat("长", 501))
	if qa.KindOf(err) != qa.KindValidation {
		t.Fatalf("kind = %q, want validation", qa.KindOf(err))
	}
	if conv.Feed.Len() != 0 || conv.Session.SessionID() != "" || atomic.LoadInt32(&calls) != 0 {
		t.Fatal("validation failure must not touch feed, session or network")
	}
}

func TestAskUnknownConversation(t *testing.T) {
	svc := newBackendService(t, answerHandler("x", ""), nil)
	_, err := svc.Ask(context.Background(), "nope", "hi")
	if !errors.Is(err, storage.ErrConversationNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestContextSentOnFollowUp(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []model.AskRequest
	)
	svc := newBackendService(t, func(w http.ResponseWriter, r *http.Request) {
		var req model.AskRequest
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		bodies = append(bodies, req)
		mu.Unlock()
		answerHandler("B", "")(w, r)
	}, nil)
	conv, _ := svc.CreateConversation("t")

	svc.Ask(context.Background(), conv.ID, "A")
	svc.Ask(context.Background(), conv.ID, "C")

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("requests = %d", len(bodies))
	}
	if bodies[0].Context != "" {
		t.Fatalf("first context = %q", bodies[0].Context)
	}
	if bodies[1].Context != "用户：A\n回答：B" {
		t.Fatalf("second context = %q", bodies[1].Context)
	}
	if bodies[0].SessionID == "" || bodies[0].SessionID != bodies[1].SessionID {
		t.Fatalf("session ids = %q, %q", bodies[0].SessionID, bodies[1].SessionID)
	}
	if bodies[0].MaxResults != 10 {
		t.Fatalf("maxResults = %d", bodies[0].MaxResults)
	}
}

type blockingClient struct {
	release chan struct{}
	started chan struct{}
	fail    atomic.Bool
}

func (b *blockingClient) Ask(ctx context.Context, p qa.AskParams) (*model.NormalizedResponse, error) {
	b.started <- struct{}{}
	<-b.release
	if b.fail.Load() {
		return nil, qa.ClassifyStatus(503, nil)
	}
	return &model.NormalizedResponse{Answer: "ok", RelatedItems: []interface{}{}}, nil
}

func (b *blockingClient) SessionHistory(context.Context, string, int, int) ([]model.Turn, error) {
	return nil, nil
}

func (b *blockingClient) SessionStatistics(context.Context, string, int) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (b *blockingClient) ClearSession(context.Context, string) error { return nil }

func (b *blockingClient) Timeout() time.Duration { return time.Second }

func (b *blockingClient) RetryCount() int { return 0 }

func (b *blockingClient) ServiceStatus(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"service": "running"}, nil
}

func (b *blockingClient) HotQuestions(context.Context, int, string) ([]string, error) {
	return []string{"Q"}, nil
}

func (b *blockingClient) MaxQuestionLength() int { return 500 }

func newBlockingService(t *testing.T) (*QAService, *blockingClient) {
	cfg := config.Default()
	cfg.Session.CleanupInterval = 0
	bc := &blockingClient{release: make(chan struct{}), started: make(chan struct{}, 1)}
	svc := NewQAService(cfg, bc, nil, nil)
	t.Cleanup(func() { svc.Close() })
	return svc, bc
}

func TestOverlappingAskIsRejected(t *testing.T) {
	svc, bc := newBlockingService(t)
	conv, _ := svc.CreateConversation("")

	done := make(chan error, 1)
	go func() {
		_, err := svc.Ask(context.Background(), conv.ID, "first")
		done <- err
	}()
	<-bc.started

	if _, err := svc.Ask(context.Background(), conv.ID, "second"); !errors.Is(err, ErrConversationBusy) {
		t.Fatalf("overlapping ask err = %v, want busy", err)
	}
	if _, err := svc.ClearConversation(context.Background(), conv.ID, ClearOptions{}); !errors.Is(err, ErrConversationBusy) {
		t.Fatalf("clear during ask err = %v, want busy", err)
	}

	other, _ := svc.CreateConversation("")
	go svc.Ask(context.Background(), other.ID, "independent")
	<-bc.started

	close(bc.release)
	if err := <-done; err != nil {
		t.Fatalf("first ask err = %v", err)
	}
	if conv.Feed.Len() != 2 {
		t.Fatalf("feed len = %d, want 2", conv.Feed.Len())
	}
}

func TestRetryResendsPendingQuestion(t *testing.T) {
	svc, bc := newBlockingService(t)
	conv, _ := svc.CreateConversation("")
	close(bc.release)

	if _, err := svc.Retry(context.Background(), conv.ID, nil); !errors.Is(err, ErrNoPendingQuestion) {
		t.Fatalf("retry without failure err = %v", err)
	}

	bc.fail.Store(true)
	go func() { <-bc.started }()
	res, _ := svc.Ask(context.Background(), conv.ID, "q")
	if res.Failure == nil || res.Failure.Kind != qa.KindServiceUnavailable {
		t.Fatalf("failure = %+v", res.Failure)
	}
	if res.Reply.Content != "AI服务暂时不可用，请稍后再试" {
		t.Fatalf("reply = %q", res.Reply.Content)
	}

	bc.fail.Store(false)
	var seen []model.Message
	go func() { <-bc.started }()
	res, err := svc.Retry(context.Background(), conv.ID, func(m model.Message) { seen = append(seen, m) })
	if err != nil || !res.Succeeded() {
		t.Fatalf("retry = %+v, %v", res, err)
	}
	if len(seen) != 1 || seen[0].Type != model.MessageAssistant {
		t.Fatalf("observed = %+v", seen)
	}
	// user + error + assistant
	if conv.Feed.Len() != 3 || conv.Session.Len() != 1 || conv.PendingQuestion() != "" {
		t.Fatalf("feed=%d history=%d pending=%q", conv.Feed.Len(), conv.Session.Len(), conv.PendingQuestion())
	}
}

func TestClearConversation(t *testing.T) {
	var deleted atomic.Value
	svc := newBackendService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted.Store(r.URL.Path)
			json.NewEncoder(w).Encode(map[string]interface{}{"errno": 0, "errmsg": "成功"})
			return
		}
		answerHandler("B", "")(w, r)
	}, nil)
	conv, _ := svc.CreateConversation("")
	svc.Ask(context.Background(), conv.ID, "A")
	sid := conv.Session.SessionID()

	if _, err := svc.ClearConversation(context.Background(), conv.ID, ClearOptions{Remote: true}); err != nil {
		t.Fatal(err)
	}
	if got, _ := deleted.Load().(string); got != "/llm/qa/session/"+sid {
		t.Fatalf("remote delete path = %q", got)
	}
	if conv.Feed.Len() != 0 || conv.Session.Len() != 0 || conv.Session.SessionID() != sid {
		t.Fatal("clear should empty feed and history but keep the session id")
	}

	svc.ClearConversation(context.Background(), conv.ID, ClearOptions{NewSession: true})
	if conv.Session.SessionID() == sid {
		t.Fatal("NewSession should rotate the session id")
	}
}

func TestClearConversationRemoteNotFound(t *testing.T) {
	svc := newBackendService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			json.NewEncoder(w).Encode(map[string]interface{}{"errno": 404, "errmsg": "会话不存在"})
			return
		}
		answerHandler("B", "")(w, r)
	}, nil)
	conv, _ := svc.CreateConversation("")
	svc.Ask(context.Background(), conv.ID, "A")

	if _, err := svc.ClearConversation(context.Background(), conv.ID, ClearOptions{Remote: true}); err != nil {
		t.Fatalf("unknown remote session should count as cleared, got %v", err)
	}
	if conv.Feed.Len() != 0 || conv.Session.Len() != 0 {
		t.Fatal("local state should be cleared")
	}
}

func TestClearConversationRemoteFailure(t *testing.T) {
	svc := newBackendService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			json.NewEncoder(w).Encode(map[string]interface{}{"errno": 500, "errmsg": "内部错误"})
			return
		}
		answerHandler("B", "")(w, r)
	}, nil)
	conv, _ := svc.CreateConversation("")
	svc.Ask(context.Background(), conv.ID, "A")

	if _, err := svc.ClearConversation(context.Background(), conv.ID, ClearOptions{Remote: true}); err == nil {
		t.Fatal("other remote errors should still fail the clear")
	}
}

func TestSetViewportTouchesConversation(t *testing.T) {
	svc, _ := newBlockingService(t)
	conv, _ := svc.CreateConversation("")
	time.Sleep(5 * time.Millisecond)
	before := time.Now()

	if _, _, err := svc.SetViewport(conv.ID, &feed.Viewport{ScrollHeight: 1000, ClientHeight: 400}); err != nil {
		t.Fatal(err)
	}
	if conv.UpdatedAt().Before(before) {
		t.Fatalf("updatedAt = %v, want >= %v", conv.UpdatedAt(), before)
	}
}

type failingStorage struct {
	storage.Storage
}

func (failingStorage) Init() error { return errors.New("disk unavailable") }

func TestNewQAServiceFallsBackToMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Session.CleanupInterval = 0
	svc := NewQAService(cfg, &blockingClient{}, failingStorage{}, nil)
	t.Cleanup(func() { svc.Close() })

	conv, err := svc.CreateConversation("")
	if err != nil {
		t.Fatalf("create after fallback: %v", err)
	}
	if _, err := svc.GetConversation(conv.ID); err != nil {
		t.Fatalf("get after fallback: %v", err)
	}
}

func TestFeatureGates(t *testing.T) {
	svc, _ := newBlockingService(t)
	svc.Config().Features.EnableHotQuestions = false
	if _, err := svc.HotQuestions(context.Background(), 5, ""); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("err = %v", err)
	}
	svc.Config().Features.EnableServiceCheck = true
	status, err := svc.Status(context.Background())
	if err != nil || status["service"] != "running" {
		t.Fatalf("status = %v, %v", status, err)
	}
}

func TestTruncateTail(t *testing.T) {
	if got := truncateTail("用户：A\n回答：B", 4); got != "回答：B" {
		t.Fatalf("truncateTail = %q", got)
	}
	if got := truncateTail("abc", 0); got != "abc" {
		t.Fatalf("no limit = %q", got)
	}
}

func TestCleanupPurgesIdleConversations(t *testing.T) {
	cfg := config.Default()
	cfg.Session.TTL = time.Millisecond
	cfg.Session.CleanupInterval = 5 * time.Millisecond
	bc := &blockingClient{release: make(chan struct{}), started: make(chan struct{}, 1)}
	svc := NewQAService(cfg, bc, nil, nil)
	defer svc.Close()

	conv, _ := svc.CreateConversation("")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := svc.GetConversation(conv.ID); err != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expired conversation was not purged")
}
