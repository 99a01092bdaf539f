package repositories

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"relay-lab/domain"
	"relay-lab/errors"
)

type IChannelStore interface {
	Join(channelID, connID string) ([]domain.Message, error)
	Append(channelID, connID string, msg domain.Message) (domain.Message, error)
	Members(channelID string) []string
	RemoveConn(connID string)
	Count() int
	ClearAll() int
}

// ConnResolver maps a connection id to a bound identity id. Satisfied
// by the IdentityRegistry; kept narrow so the store never sees the
// rest of the registry.
type ConnResolver interface {
	ResolveConn(connID string) (string, bool)
}

type channel struct {
	history []domain.Message
	members map[string]struct{} // conn ids
}

// ChannelStore owns per-channel message history and membership.
// Channels are created lazily on first join or first append. One mutex
// covers the whole store, so appends to a channel keep arrival order
// under concurrent senders.
type ChannelStore struct {
	mu       sync.RWMutex
	channels map[string]*channel
	resolver ConnResolver
	log      *slog.Logger
}

func NewChannelStore(resolver ConnResolver, log *slog.Logger) *ChannelStore {
	return &ChannelStore{
		channels: make(map[string]*channel),
		resolver: resolver,
		log:      log,
	}
}

func (s *ChannelStore) getOrCreate(channelID string) *channel {
	ch, ok := s.channels[channelID]
	if !ok {
		ch = &channel{members: make(map[string]struct{})}
		s.channels[channelID] = ch
	}
	return ch
}

// Join adds the connection to the channel's membership set and returns
// the full ordered history so the client can backfill. Joining twice
// is a no-op on membership and returns the same history again.
func (s *ChannelStore) Join(channelID, connID string) ([]domain.Message, error) {
	if channelID == "" {
		return nil, errors.ErrMissingField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.getOrCreate(channelID)
	ch.members[connID] = struct{}{}

	history := make([]domain.Message, len(ch.history))
	copy(history, ch.history)
	return history, nil
}

// Append stores one message at the end of the channel history and
// returns it ready for broadcast. The sender id is taken from the
// message, else resolved from the sending connection, else recorded as
// the unknown sentinel. A missing timestamp is stamped with server
// time.
func (s *ChannelStore) Append(channelID, connID string, msg domain.Message) (domain.Message, error) {
	if channelID == "" || msg.Payload == "" {
		return domain.Message{}, errors.ErrMissingField
	}

	msg.ChannelID = channelID
	if msg.SenderID == "" {
		if id, ok := s.resolver.ResolveConn(connID); ok {
			msg.SenderID = id
		} else {
			msg.SenderID = domain.UnknownSender
		}
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.getOrCreate(channelID)
	ch.history = append(ch.history, msg)
	return msg, nil
}

// Members returns the connection ids currently joined to the channel.
func (s *ChannelStore) Members(channelID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(ch.members))
	for connID := range ch.members {
		members = append(members, connID)
	}
	return members
}

// RemoveConn drops the connection from every membership set. Channel
// histories are never truncated; an emptied channel stays around for
// late joiners to backfill from.
func (s *ChannelStore) RemoveConn(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.channels {
		delete(ch.members, connID)
	}
}

func (s *ChannelStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// ClearAll empties all channel histories and memberships and reports
// the prior channel count.
func (s *ChannelStore) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := len(s.channels)
	s.channels = make(map[string]*channel)
	s.log.Info("Channel store cleared", "dropped", dropped)
	return dropped
}
