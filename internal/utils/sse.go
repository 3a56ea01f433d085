package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const sseDone = "[DONE]"

// SSEWriter 问答流式接口的事件输出，每个事件写完立即 flush
type SSEWriter struct {
	w      http.ResponseWriter
	closed bool
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &SSEWriter{w: w}
}

func (s *SSEWriter) Write(event, data string) error {
	if s.closed {
		return fmt.Errorf("sse stream already closed")
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}

	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// WriteJSON data 为 v 的 JSON 编码
func (s *SSEWriter) WriteJSON(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return s.Write(event, string(data))
}

// Close 发送 [DONE]，之后的写入都会失败
func (s *SSEWriter) Close() error {
	if s.closed {
		return nil
	}
	err := s.Write("", sseDone)
	s.closed = true
	return err
}
