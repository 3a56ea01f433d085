package feed

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"llmqa-console/internal/config"
	"llmqa-console/internal/model"
	"llmqa-console/internal/qa"
)

const (
	DefaultMaxErrorMessages    = 3
	DefaultAutoScrollThreshold = 100

	// 距离目标位置小于该值且非强制时不滚动
	scrollEpsilon = 10
)

// Viewport 客户端上报的滚动容器几何信息
type Viewport struct {
	ScrollHeight float64 `json:"scrollHeight"`
	ScrollTop    float64 `json:"scrollTop"`
	ClientHeight float64 `json:"clientHeight"`
}

// ScrollRequest 待客户端执行的滚动。Target 为负表示视口未知，直接滚到底部
type ScrollRequest struct {
	Smooth bool    `json:"smooth"`
	Target float64 `json:"target"`
}

type Options struct {
	ForceScroll bool
}

// Feed 按顺序记录展示给用户的消息，错误消息数量有上限
type Feed struct {
	mu       sync.Mutex
	cfg      config.UIConfig
	messages []model.Message
	viewport *Viewport
	scroll   *ScrollRequest
}

func New(cfg config.UIConfig) *Feed {
	if cfg.MaxErrorMessages <= 0 {
		cfg.MaxErrorMessages = DefaultMaxErrorMessages
	}
	if cfg.AutoScrollThreshold <= 0 {
		cfg.AutoScrollThreshold = DefaultAutoScrollThreshold
	}
	return &Feed{cfg: cfg}
}

// Append 追加一条消息。error 类型同样受错误上限约束
func (f *Feed) Append(typ model.MessageType, content string, opts Options) model.Message {
	// 未知类型按系统消息展示
	if !typ.Valid() {
		typ = model.MessageSystem
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if typ == model.MessageError {
		f.evictErrorLocked()
	}
	return f.appendLocked(typ, content, opts)
}

func (f *Feed) AppendUser(content string) model.Message {
	return f.Append(model.MessageUser, content, Options{ForceScroll: true})
}

func (f *Feed) AppendAssistant(content string) model.Message {
	return f.Append(model.MessageAssistant, content, Options{ForceScroll: true})
}

func (f *Feed) AppendSystem(content string) model.Message {
	return f.Append(model.MessageSystem, content, Options{})
}

// AppendError 超过上限时先移除最早的一条错误消息
func (f *Feed) AppendError(content string) model.Message {
	return f.Append(model.MessageError, content, Options{ForceScroll: true})
}

func (f *Feed) evictErrorLocked() {
	count := 0
	first := -1
	for i, m := range f.messages {
		if m.IsError {
			if first < 0 {
				first = i
			}
			count++
		}
	}
	if count >= f.cfg.MaxErrorMessages && first >= 0 {
		f.messages = append(f.messages[:first], f.messages[first+1:]...)
	}
}

func (f *Feed) appendLocked(typ model.MessageType, content string, opts Options) model.Message {
	msg := model.Message{
		ID:        uuid.New().String(),
		Type:      typ,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		IsError:   typ == model.MessageError,
	}
	f.messages = append(f.messages, msg)

	if opts.ForceScroll || f.shouldAutoScroll(f.viewport) {
		f.requestScrollLocked(opts.ForceScroll)
	}
	return msg
}

func (f *Feed) requestScrollLocked(force bool) {
	if f.viewport == nil {
		f.scroll = &ScrollRequest{Smooth: f.cfg.EnableSmoothScroll, Target: -1}
		return
	}
	target, ok := ScrollTarget(f.viewport, force)
	if !ok {
		return
	}
	f.scroll = &ScrollRequest{Smooth: f.cfg.EnableSmoothScroll, Target: target}
}

// ShouldAutoScroll 视口未知时总是滚动，否则看离底部的距离是否小于阈值
func (f *Feed) ShouldAutoScroll(vp *Viewport) bool {
	return f.shouldAutoScroll(vp)
}

func (f *Feed) shouldAutoScroll(vp *Viewport) bool {
	if vp == nil {
		return true
	}
	return vp.ScrollHeight-vp.ScrollTop-vp.ClientHeight < f.cfg.AutoScrollThreshold
}

// ScrollTarget 计算滚到底部的 scrollTop；已经在底部附近且非强制时返回 false
func ScrollTarget(vp *Viewport, force bool) (float64, bool) {
	if vp == nil {
		return 0, false
	}
	target := math.Max(vp.ScrollHeight-vp.ClientHeight, 0)
	if !force && math.Abs(vp.ScrollTop-target) < scrollEpsilon {
		return 0, false
	}
	return target, true
}

// SetViewport 记录最新视口；nil 表示视口未知
func (f *Feed) SetViewport(vp *Viewport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vp == nil {
		f.viewport = nil
		return
	}
	v := *vp
	f.viewport = &v
}

// TakeScrollRequest 取出并清除待执行的滚动
func (f *Feed) TakeScrollRequest() (ScrollRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scroll == nil {
		return ScrollRequest{}, false
	}
	req := *f.scroll
	f.scroll = nil
	return req, true
}

// HandleRequestError 把失败分类成一条错误消息追加到消息流
func (f *Feed) HandleRequestError(err error) model.Message {
	return f.AppendError(Describe(err))
}

// Describe 返回失败对应的用户可读文案，任何错误都有结果
func Describe(err error) string {
	qe := qa.AsError(err)
	if qe == nil {
		return fallbackMessage
	}
	switch qe.Kind {
	case qa.KindTimeout:
		return "请求超时，请检查网络连接"
	case qa.KindServiceUnavailable, qa.KindRateLimited, qa.KindClient, qa.KindTransport:
		return describeStatus(qe.Status, qe.Message)
	case qa.KindServer:
		if qe.Status != 0 {
			return describeStatus(qe.Status, qe.Message)
		}
		msg := qe.Message
		if msg == "" {
			msg = "未知错误"
		}
		return fmt.Sprintf("请求失败 (错误码: %d) - %s", qe.Errno, msg)
	case qa.KindNetwork:
		return "网络连接失败，请检查网络"
	case qa.KindValidation, qa.KindMalformedResponse:
		if qe.Message != "" {
			return qe.Message
		}
	}
	return fallbackMessage
}

const fallbackMessage = "发送失败，请稍后重试"

func describeStatus(status int, msg string) string {
	switch {
	case status == 503:
		return "AI服务暂时不可用，请稍后再试"
	case status == 429:
		return "请求过于频繁，请稍后再试"
	case status >= 500:
		return "服务器错误，请稍后再试"
	case status == 0:
		return fallbackMessage
	}
	if msg == "" {
		msg = "未知错误"
	}
	return fmt.Sprintf("请求失败 (HTTP %d) - %s", status, msg)
}

func (f *Feed) Messages() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *Feed) ErrorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.IsError {
			n++
		}
	}
	return n
}

func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
	f.scroll = nil
}
