// Package store keeps conversation history in memory: an append-only,
// ordered log per conversation plus one global message id counter.
//
// History is never evicted. A conversation exists from its first message
// for the lifetime of the process.
package store

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrNotFound   = errors.New("conversation does not exist")
	ErrOutOfOrder = errors.New("message id is not after the conversation's latest message")
)

// Message is one immutable chat message.
type Message struct {
	ID             int64  `json:"id"`
	Content        string `json:"content"`
	SenderName     string `json:"sender_name"`
	SenderID       int64  `json:"sender_id"`
	ConversationID int64  `json:"conversation_id"`
}

// Store is safe for concurrent use. Appends are serialized; reads may run
// concurrently with each other.
type Store struct {
	lastID atomic.Int64

	mu            sync.RWMutex
	conversations map[int64][]Message
	order         []int64
}

// New returns an empty store whose first message id is 1.
func New() *Store {
	return &Store{conversations: make(map[int64][]Message)}
}

// NextMessageID returns the next value of the global counter. Values start
// at 1 and are never reused.
func (s *Store) NextMessageID() int64 {
	return s.lastID.Add(1)
}

// Append adds msg to the end of its conversation, creating the
// conversation if needed. msg.ID must be greater than the id of the
// conversation's latest message.
func (s *Store) Append(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.conversations[msg.ConversationID]
	if len(history) > 0 && msg.ID <= history[len(history)-1].ID {
		return fmt.Errorf("%w: conversation %d, id %d", ErrOutOfOrder, msg.ConversationID, msg.ID)
	}
	s.appendLocked(msg)
	return nil
}

// Record assigns the next message id to msg and appends it in one critical
// section, so history order always matches id order.
func (s *Store) Record(msg Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = s.NextMessageID()
	s.appendLocked(msg)
	return msg
}

// appendLocked adds msg without checking its id. Callers hold mu.
func (s *Store) appendLocked(msg Message) {
	history, ok := s.conversations[msg.ConversationID]
	if !ok {
		s.order = append(s.order, msg.ConversationID)
	}
	s.conversations[msg.ConversationID] = append(history, msg)
}

// History returns a copy of a conversation's messages in id order, or nil
// for an unknown conversation.
func (s *Store) History(conversationID int64) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.conversations[conversationID]
	if len(history) == 0 {
		return nil
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// Latest returns the last message of a conversation.
func (s *Store) Latest(conversationID int64) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.conversations[conversationID]
	if len(history) == 0 {
		return Message{}, fmt.Errorf("%w: %d", ErrNotFound, conversationID)
	}
	return history[len(history)-1], nil
}

// ConversationIDs returns every conversation id in creation order.
func (s *Store) ConversationIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int64, len(s.order))
	copy(out, s.order)
	return out
}

// LatestPerConversation returns the last message of every conversation in
// creation order.
func (s *Store) LatestPerConversation() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		history := s.conversations[id]
		out = append(out, history[len(history)-1])
	}
	return out
}
