package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"PRealtime/module/chat/model"
	"PRealtime/tools/errs"

	"github.com/samber/lo"
)

// MemoryStore 进程内实现，开发环境和单测使用
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]model.Account
	chats     map[string]model.Chat
	messages  map[string]model.Message
	reactions map[model.Reaction]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]model.Account),
		chats:     make(map[string]model.Chat),
		messages:  make(map[string]model.Message),
		reactions: make(map[model.Reaction]struct{}),
	}
}

func (s *MemoryStore) PutAccount(a model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *MemoryStore) PutChat(c model.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Participants = append([]string(nil), c.Participants...)
	s.chats[c.ID] = c
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("account", "id", userID)
	}
	return &a, nil
}

func (s *MemoryStore) UpdateLastOnline(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return errs.ErrNotFound.WrapMsg("account", "id", userID)
	}
	at = at.UTC()
	a.LastOnline = &at
	s.accounts[userID] = a
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, chatID string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("chat", "id", chatID)
	}
	c.Participants = append([]string(nil), c.Participants...)
	return &c, nil
}

func (s *MemoryStore) ChatsOf(_ context.Context, userID string) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Chat
	for _, c := range s.chats {
		if c.HasParticipant(userID) {
			c.Participants = append([]string(nil), c.Participants...)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) TouchChat(_ context.Context, chatID, lastMessageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return errs.ErrNotFound.WrapMsg("chat", "id", chatID)
	}
	c.LastMessageID = lastMessageID
	c.UpdatedAt = at
	s.chats[chatID] = c
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return errs.ErrInvalidState.WrapMsg("message exists", "id", m.ID)
	}
	s.messages[m.ID] = *m
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	m.DeliveredTo = append([]string(nil), m.DeliveredTo...)
	m.ReadBy = append([]string(nil), m.ReadBy...)
	return &m, nil
}

// RecentMessages 最新的 limit 条，按时间正序
func (s *MemoryStore) RecentMessages(_ context.Context, chatID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	if lo.Contains(m.DeliveredTo, userID) {
		return false, nil
	}
	m.DeliveredTo = append(m.DeliveredTo, userID)
	s.messages[messageID] = m
	return true, nil
}

// MarkRead 已读同时视为已送达
func (s *MemoryStore) MarkRead(_ context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	if lo.Contains(m.ReadBy, userID) {
		return false, nil
	}
	m.ReadBy = append(m.ReadBy, userID)
	if !lo.Contains(m.DeliveredTo, userID) {
		m.DeliveredTo = append(m.DeliveredTo, userID)
	}
	m.MessageStatus = model.MessageStatusSeen
	s.messages[messageID] = m
	return true, nil
}

func (s *MemoryStore) AddReaction(_ context.Context, r model.Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.Reaction{MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji}
	if _, ok := s.reactions[key]; ok {
		return false, nil
	}
	s.reactions[key] = struct{}{}
	return true, nil
}

func (s *MemoryStore) RemoveReaction(_ context.Context, r model.Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.Reaction{MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji}
	if _, ok := s.reactions[key]; !ok {
		return false, nil
	}
	delete(s.reactions, key)
	return true, nil
}

var _ Store = (*MemoryStore)(nil)
