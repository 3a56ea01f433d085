package storage

import (
	"sync"
	"time"

	"llmqa-console/internal/feed"
	"llmqa-console/internal/session"
)

// Conversation 一个独立的问答会话：自己的会话管理器和消息流，互不共享
type Conversation struct {
	ID        string
	Session   *session.Manager
	Feed      *feed.Feed
	CreatedAt time.Time

	mu        sync.Mutex
	title     string
	asking    bool
	pending   string
	updatedAt time.Time
}

func NewConversation(id, title string, s *session.Manager, f *feed.Feed) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		title:     title,
		Session:   s,
		Feed:      f,
		CreatedAt: now,
		updatedAt: now,
	}
}

func (c *Conversation) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

func (c *Conversation) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
}

// TryBeginAsk 同一会话同时只允许一个在途请求
func (c *Conversation) TryBeginAsk() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.asking {
		return false
	}
	c.asking = true
	return true
}

func (c *Conversation) EndAsk() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asking = false
	c.updatedAt = time.Now()
}

func (c *Conversation) Asking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asking
}

// PendingQuestion 上一次失败的问题，供重试使用
func (c *Conversation) PendingQuestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Conversation) SetPendingQuestion(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = q
}

func (c *Conversation) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updatedAt = time.Now()
}

func (c *Conversation) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

type Storage interface {
	// 会话管理
	CreateConversation(conv *Conversation) error
	GetConversation(id string) (*Conversation, error)
	DeleteConversation(id string) error
	ListConversations() ([]*Conversation, error)

	// 清理 updatedAt 早于 before 且没有在途请求的会话，返回被清理的ID
	PurgeIdle(before time.Time) ([]string, error)

	// 存储管理
	Init() error
	Close() error
}
