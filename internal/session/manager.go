package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"llmqa-console/internal/model"
)

const (
	DefaultMaxHistoryLength = 5

	contextTemplate = "用户：%s\n回答：%s"
)

// Manager 持有一个会话ID和有界的问答历史
type Manager struct {
	mu               sync.RWMutex
	sessionID        string
	history          []model.Turn
	maxHistoryLength int
}

func NewManager(maxHistoryLength int) *Manager {
	if maxHistoryLength <= 0 {
		maxHistoryLength = DefaultMaxHistoryLength
	}
	return &Manager{
		history:          make([]model.Turn, 0, maxHistoryLength),
		maxHistoryLength: maxHistoryLength,
	}
}

// NewSessionID 生成 session_<毫秒时间戳>_<9位随机串>
func NewSessionID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), suffix)
}

// CreateSession 开始新会话：换新ID并清空历史
func (m *Manager) CreateSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionID = NewSessionID()
	m.history = m.history[:0]
	return m.sessionID
}

func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// EnsureSession 第一次提问时才创建会话
func (m *Manager) EnsureSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID == "" {
		m.sessionID = NewSessionID()
	}
	return m.sessionID
}

// AdoptSessionID 跟随后端返回的会话ID，返回是否发生了变化
func (m *Manager) AdoptSessionID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == m.sessionID {
		return false
	}
	m.sessionID = id
	return true
}

func (m *Manager) RecordTurn(question, answer string) model.Turn {
	turn := model.Turn{
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now().UnixMilli(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, turn)
	if over := len(m.history) - m.maxHistoryLength; over > 0 {
		// 先进先出，保留原顺序
		m.history = append(m.history[:0], m.history[over:]...)
	}
	return turn
}

func (m *Manager) History() []model.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Turn, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

func (m *Manager) MaxHistoryLength() int {
	return m.maxHistoryLength
}

// BuildContext 按时间顺序渲染历史，历史为空时返回空串
func (m *Manager) BuildContext() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) == 0 {
		return ""
	}
	lines := make([]string, 0, len(m.history))
	for _, t := range m.history {
		lines = append(lines, fmt.Sprintf(contextTemplate, t.Question, t.Answer))
	}
	return strings.Join(lines, "\n")
}

// Clear 清空历史，会话ID不变
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = m.history[:0]
}
