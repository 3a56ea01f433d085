package qa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"llmqa-console/internal/config"
	"llmqa-console/internal/model"
	"llmqa-console/internal/utils"
	"llmqa-console/pkg/logger"
)

const (
	tokenHeader     = "X-Litemall-Admin-Token"
	maxResponseBody = 4 << 20
)

// Client 远端问答服务客户端。它不持有会话或消息状态，由调用方编排
type Client struct {
	cfg        config.QAConfig
	req        config.RequestConfig
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(qaCfg config.QAConfig, reqCfg config.RequestConfig, opts ...Option) *Client {
	d := config.Default()
	if reqCfg.Timeout <= 0 {
		reqCfg.Timeout = d.Request.Timeout
	}
	if reqCfg.Timeout > config.MaxRequestTimeout {
		reqCfg.Timeout = config.MaxRequestTimeout
	}
	if reqCfg.MaxResults <= 0 {
		reqCfg.MaxResults = d.Request.MaxResults
	}
	if reqCfg.MaxQuestionLength <= 0 {
		reqCfg.MaxQuestionLength = d.Request.MaxQuestionLength
	}
	if qaCfg.AskPath == "" {
		qaCfg.AskPath = d.QA.AskPath
	}

	c := &Client{
		cfg:        qaCfg,
		req:        reqCfg,
		httpClient: utils.NewHTTPClient(reqCfg.Timeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout 生效的请求超时，不超过 config.MaxRequestTimeout
func (c *Client) Timeout() time.Duration {
	return c.req.Timeout
}

// RetryCount 配置的重试次数；客户端不会自动重试
func (c *Client) RetryCount() int {
	return c.req.RetryCount
}

func (c *Client) MaxQuestionLength() int {
	return c.req.MaxQuestionLength
}

type AskParams struct {
	Question   string
	SessionID  string
	Context    string
	MaxResults int
}

// Ask 校验问题、发送一次请求并归一化响应。返回的错误总是 *Error
func (c *Client) Ask(ctx context.Context, p AskParams) (*model.NormalizedResponse, error) {
	question, err := ValidateQuestion(p.Question, c.req.MaxQuestionLength)
	if err != nil {
		return nil, err
	}

	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = c.req.MaxResults
	}
	body := model.AskRequest{
		Question:   question,
		SessionID:  p.SessionID,
		Context:    p.Context,
		MaxResults: maxResults,
	}

	ctx, cancel := context.WithTimeout(ctx, c.req.Timeout)
	defer cancel()

	start := time.Now()
	v, err := c.roundTrip(ctx, http.MethodPost, c.cfg.AskPath, "", nil, body)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"session_id": p.SessionID,
			"kind":       KindOf(err),
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Warn("ask failed")
		return nil, err
	}

	resp, err := Normalize(v)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"session_id": p.SessionID,
			"kind":       KindOf(err),
		}).Warnf("ask response rejected: %v", err)
		return nil, err
	}
	return resp, nil
}

// SessionHistory 拉取远端会话历史
func (c *Client) SessionHistory(ctx context.Context, sessionID string, page, limit int) ([]model.Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, newError(KindValidation, "会话ID不能为空")
	}
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	data, err := c.call(ctx, http.MethodGet, c.cfg.HistoryPath, sessionID, q)
	if err != nil {
		return nil, err
	}
	if m, ok := data.(map[string]interface{}); ok {
		data = m["list"]
	}
	turns := []model.Turn{}
	if data == nil {
		return turns, nil
	}
	if err := remarshal(data, &turns); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Message: "历史记录格式错误", Err: err}
	}
	return turns, nil
}

// SessionStatistics sessionID 为空时查询全局统计。返回的 map 中数值均为 float64
func (c *Client) SessionStatistics(ctx context.Context, sessionID string, days int) (map[string]interface{}, error) {
	path := c.cfg.StatisticsPath
	if sessionID == "" {
		path = c.cfg.GlobalStatisticsPath
	}
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	data, err := c.call(ctx, http.MethodGet, path, sessionID, q)
	if err != nil {
		return nil, err
	}
	return asObject(data)
}

func (c *Client) ClearSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return newError(KindValidation, "会话ID不能为空")
	}
	_, err := c.call(ctx, http.MethodDelete, c.cfg.SessionPath, sessionID, nil)
	return err
}

// ServiceStatus 数值同样为 float64
func (c *Client) ServiceStatus(ctx context.Context) (map[string]interface{}, error) {
	data, err := c.call(ctx, http.MethodGet, c.cfg.StatusPath, "", nil)
	if err != nil {
		return nil, err
	}
	return asObject(data)
}

func (c *Client) HotQuestions(ctx context.Context, limit int, category string) ([]string, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if category != "" {
		q.Set("category", category)
	}
	data, err := c.call(ctx, http.MethodGet, c.cfg.HotQuestionsPath, "", q)
	if err != nil {
		return nil, err
	}
	if m, ok := data.(map[string]interface{}); ok {
		data = m["list"]
	}
	items, _ := data.([]interface{})
	questions := make([]string, 0, len(items))
	for _, item := range items {
		switch q := item.(type) {
		case string:
			questions = append(questions, q)
		case map[string]interface{}:
			if s, ok := q["question"].(string); ok {
				questions = append(questions, s)
			}
		}
	}
	return questions, nil
}

// call 发送请求并校验信封，返回 data 字段
func (c *Client) call(ctx context.Context, method, path, sessionID string, query url.Values) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.req.Timeout)
	defer cancel()

	v, err := c.roundTrip(ctx, method, path, sessionID, query, nil)
	if err != nil {
		return nil, err
	}
	resp, ok := v.(map[string]interface{})
	if !ok {
		return nil, newError(KindMalformedResponse, "无效的响应格式")
	}
	errno, ok := toInt(resp["errno"])
	if !ok {
		return nil, newError(KindMalformedResponse, "响应数据格式错误：缺少errno字段")
	}
	if errno != model.ErrnoOK {
		errmsg, _ := resp["errmsg"].(string)
		return nil, &Error{Kind: KindServer, Errno: errno, Message: errmsg}
	}
	return resp["data"], nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, sessionID string, query url.Values, body interface{}) (interface{}, error) {
	endpoint := c.endpoint(path, sessionID, query)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: "请求序列化失败", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "无法创建请求", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set(tokenHeader, c.cfg.Token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
		}
		logger.Errorf("qa request %s %s failed: %v", method, endpoint, err)
		return nil, AsError(err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Message: "读取响应失败", Err: err}
	}

	v, decodeErr := decode(raw)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		m, _ := v.(map[string]interface{})
		return nil, ClassifyStatus(res.StatusCode, m)
	}
	if decodeErr != nil {
		return nil, &Error{Kind: KindMalformedResponse, Message: "无效的响应格式", Err: decodeErr}
	}
	return v, nil
}

func (c *Client) endpoint(path, sessionID string, query url.Values) string {
	p := strings.ReplaceAll(path, "{sessionId}", url.PathEscape(sessionID))
	u := strings.TrimRight(c.cfg.BaseURL, "/") + p
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func decode(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func asObject(data interface{}) (map[string]interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil, newError(KindMalformedResponse, fmt.Sprintf("期望对象，实际为 %T", data))
	}
	return plainNumbers(m).(map[string]interface{}), nil
}

// plainNumbers 把 decode 留下的 json.Number 换成 float64，与 encoding/json 的默认解码一致
func plainNumbers(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]interface{}:
		for k, item := range x {
			x[k] = plainNumbers(item)
		}
		return x
	case []interface{}:
		for i, item := range x {
			x[i] = plainNumbers(item)
		}
		return x
	}
	return v
}

func remarshal(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
