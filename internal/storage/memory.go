package storage

import (
	"sort"
	"sync"
	"time"

	"llmqa-console/pkg/logger"
)

type MemoryStorage struct {
	conversations map[string]*Conversation
	mu            sync.RWMutex
	closed        bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*Conversation),
	}
}

func (m *MemoryStorage) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = false
	logger.Info("Memory storage initialized")
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.conversations = make(map[string]*Conversation)
	return nil
}

func (m *MemoryStorage) CreateConversation(conv *Conversation) error {
	if conv == nil || conv.ID == "" || conv.Session == nil || conv.Feed == nil {
		return ErrInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.conversations[conv.ID]; exists {
		return ErrConversationExists
	}
	m.conversations[conv.ID] = conv
	return nil
}

func (m *MemoryStorage) GetConversation(id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[id]
	if !exists {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (m *MemoryStorage) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[id]; !exists {
		return ErrConversationNotFound
	}
	delete(m.conversations, id)
	return nil
}

// ListConversations 按最近更新时间倒序
func (m *MemoryStorage) ListConversations() ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		list = append(list, conv)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt().After(list[j].UpdatedAt())
	})
	return list, nil
}

func (m *MemoryStorage) PurgeIdle(before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, conv := range m.conversations {
		if conv.Asking() || !conv.UpdatedAt().Before(before) {
			continue
		}
		delete(m.conversations, id)
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed, nil
}

func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}
