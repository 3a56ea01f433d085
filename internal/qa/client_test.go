package qa

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"llmqa-console/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc, mutate func(*config.Config)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.QA.BaseURL = srv.URL
	if mutate != nil {
		mutate(cfg)
	}
	return NewClient(cfg.QA, cfg.Request), srv
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestAskSendsRequestAndNormalizes(t *testing.T) {
	var got map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/llm/qa/ask" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(tokenHeader) != "tok" {
			t.Errorf("token header = %q", r.Header.Get(tokenHeader))
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"errno":  0,
			"errmsg": "成功",
			"data": map[string]interface{}{
				"data": map[string]interface{}{"answer": " 在“我的订单”页面查看 ", "goods": []interface{}{}, "sessionId": "s1"},
			},
		})
	}, func(c *config.Config) { c.QA.Token = "tok" })

	resp, err := client.Ask(context.Background(), AskParams{
		Question:  "  订单在哪里查询?  ",
		SessionID: "session_1",
		Context:   "用户：A\n回答：B",
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Answer != "在“我的订单”页面查看" || resp.SessionID != "s1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got["question"] != "订单在哪里查询?" {
		t.Fatalf("question sent = %v", got["question"])
	}
	if got["sessionId"] != "session_1" || got["context"] != "用户：A\n回答：B" {
		t.Fatalf("unexpected body: %v", got)
	}
	if got["maxResults"] != float64(10) {
		t.Fatalf("maxResults = %v, want default 10", got["maxResults"])
	}
}

func TestAskValidationSkipsNetwork(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}, nil)

	for _, q := range []string{"", "   ", strings.Repeat("x", 501)} {
		_, err := client.Ask(context.Background(), AskParams{Question: q})
		if KindOf(err) != KindValidation {
			t.Fatalf("Ask(%q) kind = %q, want validation", q, KindOf(err))
		}
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("server called %d times, want 0", n)
	}
}

func TestAskTimeout(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(c *config.Config) { c.Request.Timeout = 50 * time.Millisecond })
	defer close(release)

	start := time.Now()
	_, err := client.Ask(context.Background(), AskParams{Question: "hello"})
	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %q, want timeout (err=%v)", KindOf(err), err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Ask took %s, timeout not applied", elapsed)
	}
}

func TestAskCanceledContextIsTimeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// 先读完请求体，服务端才能感知客户端断开
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := client.Ask(ctx, AskParams{Question: "hello"})
	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %q, want timeout", KindOf(err))
	}
}

func TestAskNetworkError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	srv.Close()

	_, err := client.Ask(context.Background(), AskParams{Question: "hello"})
	if KindOf(err) != KindNetwork {
		t.Fatalf("kind = %q, want network (err=%v)", KindOf(err), err)
	}
}

func TestAskHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		body   map[string]interface{}
		kind   Kind
		msg    string
	}{
		{status: 503, kind: KindServiceUnavailable},
		{status: 429, kind: KindRateLimited},
		{status: 500, kind: KindServer},
		{status: 502, kind: KindServer},
		{status: 404, body: map[string]interface{}{"errmsg": "接口不存在"}, kind: KindClient, msg: "接口不存在"},
		{status: 400, body: map[string]interface{}{"message": "bad question"}, kind: KindClient, msg: "bad question"},
		{status: 401, kind: KindClient},
	}
	for _, tt := range tests {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tt.status, tt.body)
		}, nil)
		_, err := client.Ask(context.Background(), AskParams{Question: "hello"})
		qe := AsError(err)
		if qe == nil || qe.Kind != tt.kind || qe.Status != tt.status {
			t.Fatalf("status %d: got %+v, want kind %q", tt.status, qe, tt.kind)
		}
		if qe.Message != tt.msg && tt.kind == KindClient {
			t.Fatalf("status %d: message = %q, want %q", tt.status, qe.Message, tt.msg)
		}
	}
}

func TestAskEnvelopeErrno(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"errno": 502, "errmsg": "处理请求时发生错误：boom"})
	}, nil)

	_, err := client.Ask(context.Background(), AskParams{Question: "hello"})
	qe := AsError(err)
	if qe.Kind != KindServer || qe.Errno != 502 || qe.Message != "处理请求时发生错误：boom" {
		t.Fatalf("unexpected error: %+v", qe)
	}
}

func TestAskNonJSONBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway</html>"))
	}, nil)

	_, err := client.Ask(context.Background(), AskParams{Question: "hello"})
	if KindOf(err) != KindMalformedResponse {
		t.Fatalf("kind = %q, want malformed_response", KindOf(err))
	}
}

func TestRemoteSessionOperations(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/llm/qa/session/s1/history":
			if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("limit") != "5" {
				t.Errorf("history query = %s", r.URL.RawQuery)
			}
			writeJSON(w, 200, map[string]interface{}{"errno": 0, "data": []interface{}{
				map[string]interface{}{"question": "A", "answer": "B", "timestamp": 1700000000000},
			}})
		case r.Method == http.MethodGet && r.URL.Path == "/llm/qa/session/s1/statistics":
			writeJSON(w, 200, map[string]interface{}{"errno": 0, "data": map[string]interface{}{"questionCount": 3}})
		case r.Method == http.MethodGet && r.URL.Path == "/llm/qa/session/statistics":
			writeJSON(w, 200, map[string]interface{}{"errno": 0, "data": map[string]interface{}{"sessionCount": 7}})
		case r.Method == http.MethodDelete && r.URL.Path == "/llm/qa/session/s1":
			writeJSON(w, 200, map[string]interface{}{"errno": 0, "errmsg": "成功"})
		case r.Method == http.MethodGet && r.URL.Path == "/llm/qa/status":
			writeJSON(w, 200, map[string]interface{}{"errno": 0, "data": map[string]interface{}{"service": "running"}})
		case r.Method == http.MethodGet && r.URL.Path == "/llm/qa/hot-questions":
			writeJSON(w, 200, map[string]interface{}{"errno": 0, "data": []interface{}{"Q1", map[string]interface{}{"question": "Q2"}}})
		default:
			writeJSON(w, 200, map[string]interface{}{"errno": 404, "errmsg": "not found"})
		}
	}, nil)
	ctx := context.Background()

	turns, err := client.SessionHistory(ctx, "s1", 2, 5)
	if err != nil || len(turns) != 1 || turns[0].Question != "A" || turns[0].Timestamp != 1700000000000 {
		t.Fatalf("SessionHistory = %+v, %v", turns, err)
	}
	stats, err := client.SessionStatistics(ctx, "s1", 7)
	if err != nil || stats["questionCount"] != float64(3) {
		t.Fatalf("SessionStatistics = %v, %v", stats, err)
	}
	global, err := client.SessionStatistics(ctx, "", 0)
	if err != nil || global["sessionCount"] != float64(7) {
		t.Fatalf("global statistics = %v, %v", global, err)
	}
	if err := client.ClearSession(ctx, "s1"); err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}
	status, err := client.ServiceStatus(ctx)
	if err != nil || status["service"] != "running" {
		t.Fatalf("ServiceStatus = %v, %v", status, err)
	}
	hot, err := client.HotQuestions(ctx, 5, "")
	if err != nil || len(hot) != 2 || hot[1] != "Q2" {
		t.Fatalf("HotQuestions = %v, %v", hot, err)
	}
	if err := client.ClearSession(ctx, " "); KindOf(err) != KindValidation {
		t.Fatalf("ClearSession(blank) kind = %q", KindOf(err))
	}
}

func TestAsErrorIsTotal(t *testing.T) {
	if AsError(nil) != nil {
		t.Fatal("AsError(nil) should be nil")
	}
	if k := KindOf(context.DeadlineExceeded); k != KindTimeout {
		t.Fatalf("deadline kind = %q", k)
	}
	if k := KindOf(context.Canceled); k != KindTimeout {
		t.Fatalf("canceled kind = %q", k)
	}
	if k := KindOf(http.ErrHandlerTimeout); k != KindNetwork {
		t.Fatalf("unknown error kind = %q, want network", k)
	}
}

func TestNewClientClampsTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Request.Timeout = time.Minute
	c := NewClient(cfg.QA, cfg.Request)
	if c.Timeout() != config.MaxRequestTimeout {
		t.Fatalf("timeout = %s, want %s", c.Timeout(), config.MaxRequestTimeout)
	}
	if c.RetryCount() != 3 {
		t.Fatalf("retry count = %d", c.RetryCount())
	}
}
