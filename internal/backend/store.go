package backend

import (
	"sort"
	"strings"
	"sync"
	"time"

	"llmqa-console/internal/model"
)

const (
	sessionTimeout     = 30 * time.Minute
	maxTurnsPerSession = 50
)

type devSession struct {
	id         string
	turns      []model.Turn
	queryCount int
	createdAt  time.Time
	lastAccess time.Time
}

func (s *devSession) expired(now time.Time) bool {
	return now.Sub(s.lastAccess) > sessionTimeout
}

// HotQuestion 热门问题及被问次数
type HotQuestion struct {
	Question string `json:"question"`
	Count    int    `json:"count"`
}

// sessionStore 开发后端的内存会话表，过期会话在访问时顺带清理
type sessionStore struct {
	mu           sync.Mutex
	sessions     map[string]*devSession
	askCounts    map[string]int
	seeds        []string
	totalQueries int
	now          func() time.Time
}

func newSessionStore(seeds []string) *sessionStore {
	return &sessionStore{
		sessions:  make(map[string]*devSession),
		askCounts: make(map[string]int),
		seeds:     seeds,
		now:       time.Now,
	}
}

// recentTurns 返回会话最近 n 轮问答，会话不存在时返回 nil
func (s *sessionStore) recentTurns(id string, n int) []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.expired(s.now()) {
		return nil
	}
	turns := sess.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	return out
}

func (s *sessionStore) record(id, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.cleanupLocked(now)
	sess, ok := s.sessions[id]
	if !ok {
		sess = &devSession{id: id, createdAt: now}
		s.sessions[id] = sess
	}
	sess.lastAccess = now
	sess.queryCount++
	if len(sess.turns) >= maxTurnsPerSession {
		sess.turns = sess.turns[1:]
	}
	sess.turns = append(sess.turns, model.Turn{
		Question:  question,
		Answer:    answer,
		Timestamp: now.UnixMilli(),
	})

	s.totalQueries++
	s.askCounts[strings.TrimSpace(question)]++
}

// history 按页返回，page 从 1 开始
func (s *sessionStore) history(id string, page, limit int) ([]model.Turn, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked(s.now())

	sess, ok := s.sessions[id]
	if !ok {
		return []model.Turn{}, 0
	}
	total := len(sess.turns)
	start := (page - 1) * limit
	if start >= total {
		return []model.Turn{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	out := make([]model.Turn, end-start)
	copy(out, sess.turns[start:end])
	return out, total
}

func (s *sessionStore) statistics(id string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked(s.now())

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return map[string]interface{}{
		"sessionId":       sess.id,
		"queryCount":      sess.queryCount,
		"messageCount":    len(sess.turns),
		"createdAt":       sess.createdAt.UnixMilli(),
		"lastAccessTime":  sess.lastAccess.UnixMilli(),
		"sessionDuration": sess.lastAccess.Sub(sess.createdAt).Milliseconds(),
	}, true
}

func (s *sessionStore) globalStatistics(days int) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.cleanupLocked(now)
	since := now.AddDate(0, 0, -days)
	recent := 0
	for _, sess := range s.sessions {
		if sess.createdAt.After(since) {
			recent++
		}
	}
	return map[string]interface{}{
		"totalSessions":  len(s.sessions),
		"activeSessions": len(s.sessions),
		"recentSessions": recent,
		"totalQueries":   s.totalQueries,
		"sessionTimeout": sessionTimeout.Milliseconds(),
		"days":           days,
	}
}

func (s *sessionStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked(s.now())
	return len(s.sessions)
}

// hotQuestions 按被问次数排序，配置里的种子问题排在同分问题之前
func (s *sessionStore) hotQuestions(limit int) []HotQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	list := make([]HotQuestion, 0, len(s.seeds)+len(s.askCounts))
	for _, q := range s.seeds {
		if seen[q] {
			continue
		}
		seen[q] = true
		list = append(list, HotQuestion{Question: q, Count: s.askCounts[q]})
	}
	asked := make([]HotQuestion, 0, len(s.askCounts))
	for q, n := range s.askCounts {
		if !seen[q] {
			asked = append(asked, HotQuestion{Question: q, Count: n})
		}
	}
	sort.Slice(asked, func(i, j int) bool {
		if asked[i].Count != asked[j].Count {
			return asked[i].Count > asked[j].Count
		}
		return asked[i].Question < asked[j].Question
	})
	list = append(list, asked...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Count > list[j].Count
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

func (s *sessionStore) cleanupLocked(now time.Time) {
	for id, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, id)
		}
	}
}
