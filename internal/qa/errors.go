package qa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind 问答请求失败的分类，每个失败恰好属于一种
type Kind string

const (
	KindValidation         Kind = "validation"
	KindMalformedResponse  Kind = "malformed_response"
	KindServer             Kind = "server"
	KindTransport          Kind = "transport"
	KindServiceUnavailable Kind = "service_unavailable"
	KindRateLimited        Kind = "rate_limited"
	KindClient             Kind = "client"
	KindNetwork            Kind = "network"
	KindTimeout            Kind = "timeout"
)

// Error 是客户端返回的唯一错误类型。
// Status 为 HTTP 状态码（传输层错误），Errno 为信封错误码（业务错误）。
type Error struct {
	Kind    Kind
	Status  int
	Errno   int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("qa %s [http %d]: %s", e.Kind, e.Status, e.Message)
	case e.Kind == KindServer:
		return fmt.Sprintf("qa %s [errno %d]: %s", e.Kind, e.Errno, e.Message)
	default:
		return fmt.Sprintf("qa %s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable 仅供调用方参考，客户端本身不自动重试
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindServiceUnavailable, KindRateLimited:
		return true
	case KindServer, KindTransport:
		return e.Status >= 500
	}
	return false
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// AsError 把任意错误归入分类；未知错误视为网络错误，超时与取消视为超时
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindNetwork, Message: "no response received", Err: err}
}

// KindOf 返回错误分类，nil 返回空字符串
func KindOf(err error) Kind {
	if qe := AsError(err); qe != nil {
		return qe.Kind
	}
	return ""
}

// ClassifyStatus 按 HTTP 状态码分类非 2xx 响应；body 中的 errmsg/message 原样保留
func ClassifyStatus(status int, body map[string]interface{}) *Error {
	switch {
	case status == http.StatusServiceUnavailable:
		return &Error{Kind: KindServiceUnavailable, Status: status, Message: "service temporarily unavailable"}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: status, Message: "too many requests"}
	case status >= 500:
		return &Error{Kind: KindServer, Status: status, Message: "server error"}
	}
	msg := ""
	if body != nil {
		if s, ok := body["errmsg"].(string); ok && s != "" {
			msg = s
		} else if s, ok := body["message"].(string); ok && s != "" {
			msg = s
		}
	}
	return &Error{Kind: KindClient, Status: status, Message: msg}
}
