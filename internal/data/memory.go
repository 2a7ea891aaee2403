package data

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-process implementation of every repository. It backs
// tests and single-node deployments that run without MongoDB.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	directIndex   map[string]string // direct key -> conversation id
	communities   map[string]string // community ref -> conversation id
	messages      map[string]*Message
	byConv        map[string][]*Message // ascending by seq
	cursors       map[string]*ReadCursor
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		directIndex:   make(map[string]string),
		communities:   make(map[string]string),
		messages:      make(map[string]*Message),
		byConv:        make(map[string][]*Message),
		cursors:       make(map[string]*ReadCursor),
	}
}

var (
	_ ConversationRepository = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
	_ CursorRepository       = (*MemoryStore)(nil)
)

func (s *MemoryStore) InsertConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[c.ID]; ok {
		return ErrDuplicate
	}
	if c.DirectKey != "" {
		if _, ok := s.directIndex[c.DirectKey]; ok {
			return ErrDuplicate
		}
		s.directIndex[c.DirectKey] = c.ID
	}
	if c.CommunityRef != "" {
		if _, ok := s.communities[c.CommunityRef]; ok {
			return ErrDuplicate
		}
		s.communities[c.CommunityRef] = c.ID
	}
	s.conversations[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) ConversationByID(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationLocked(id)
}

func (s *MemoryStore) conversationLocked(id string) (*Conversation, error) {
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) ConversationByDirectKey(_ context.Context, key string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.directIndex[key]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return s.conversationLocked(id)
}

func (s *MemoryStore) ConversationByCommunity(_ context.Context, communityRef string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.communities[communityRef]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return s.conversationLocked(id)
}

func (s *MemoryStore) ConversationsForUser(_ context.Context, userID string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AddParticipant(_ context.Context, id, userID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if !c.HasParticipant(userID) {
		c.ParticipantIDs = append(c.ParticipantIDs, userID)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) SetArchived(_ context.Context, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	c.Archived = archived
	return nil
}

func (s *MemoryStore) NextSeq(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return 0, ErrConversationNotFound
	}
	c.LastSeq++
	return c.LastSeq, nil
}

func (s *MemoryStore) ReleaseSeq(_ context.Context, id string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	if c.LastSeq == seq {
		c.LastSeq--
	}
	return nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[m.ID]; ok {
		return ErrDuplicate
	}
	list := s.byConv[m.ConversationID]
	if n := len(list); n > 0 && list[n-1].Seq >= m.Seq {
		// seq is allocated under the conversation lock so this only trips on misuse
		return ErrDuplicate
	}
	stored := m.Clone()
	s.messages[m.ID] = stored
	s.byConv[m.ConversationID] = append(list, stored)
	return nil
}

func (s *MemoryStore) MessageByID(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) LastMessage(_ context.Context, conversationID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byConv[conversationID]
	if len(list) == 0 {
		return nil, ErrMessageNotFound
	}
	return list[len(list)-1].Clone(), nil
}

func (s *MemoryStore) MessagesAfter(_ context.Context, conversationID string, afterSeq int64, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byConv[conversationID]
	start := sort.Search(len(list), func(i int) bool { return list[i].Seq > afterSeq })
	end := len(list)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]*Message, 0, end-start)
	for _, m := range list[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryStore) CountMessagesAfter(_ context.Context, conversationID string, afterSeq int64, excludeSender string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byConv[conversationID]
	start := sort.Search(len(list), func(i int) bool { return list[i].Seq > afterSeq })
	var n int64
	for _, m := range list[start:] {
		if excludeSender != "" && m.SenderID == excludeSender {
			continue
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) SetReaction(_ context.Context, messageID, emoji, userID string, present bool) (*Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return nil, false, ErrMessageNotFound
	}
	users := m.Reactions[emoji]
	has := slices.Contains(users, userID)
	switch {
	case present && !has:
		if m.Reactions == nil {
			m.Reactions = make(map[string][]string)
		}
		m.Reactions[emoji] = append(users, userID)
	case !present && has:
		users = slices.DeleteFunc(slices.Clone(users), func(u string) bool { return u == userID })
		if len(users) == 0 {
			delete(m.Reactions, emoji)
		} else {
			m.Reactions[emoji] = users
		}
	default:
		return m.Clone(), false, nil
	}
	return m.Clone(), true, nil
}

func (s *MemoryStore) Cursor(_ context.Context, userID, conversationID string) (*ReadCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[cursorID(userID, conversationID)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, c *ReadCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.cursors[cursorID(c.UserID, c.ConversationID)] = &cp
	return nil
}
