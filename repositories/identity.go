package repositories

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"relay-lab/domain"
	"relay-lab/errors"
)

type IIdentityRegistry interface {
	Create(identity domain.Identity, connID string) error
	GetByPhone(phone string) (domain.Identity, error)
	GetByID(id string) (domain.Identity, error)
	Bind(connID, identityID string) (domain.Summary, error)
	LookupByID(id string) (domain.Summary, bool)
	LookupByPhone(phone string) (domain.Summary, bool)
	ListAll() []domain.Summary
	ResolveConn(connID string) (string, bool)
	OnDisconnect(connID string)
	Count() int
	ClearAll() int
}

// IdentityRegistry owns the user table, the phone index and the
// connection index. The three structures always mutate together under
// one mutex: the phone-uniqueness check and the insert live in the
// same critical section, so two concurrent registrations for the same
// number cannot both pass.
type IdentityRegistry struct {
	mu         sync.RWMutex
	identities map[string]*domain.Identity // id -> identity
	order      []string                    // ids in insertion order
	phones     map[string]string           // normalized phone -> id
	conns      map[string]string           // conn id -> identity id
	log        *slog.Logger
}

func NewIdentityRegistry(log *slog.Logger) *IdentityRegistry {
	return &IdentityRegistry{
		identities: make(map[string]*domain.Identity),
		phones:     make(map[string]string),
		conns:      make(map[string]string),
		log:        log,
	}
}

// Create inserts a new identity and indexes it by phone and, when the
// issuing connection is known, binds that connection to it.
// Returns AlreadyRegisteredError when the phone is taken and
// ErrIDCollision when the candidate id is in use (the caller retries
// with a fresh id).
func (r *IdentityRegistry) Create(identity domain.Identity, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.phones[identity.Phone]; ok {
		return errors.AlreadyRegisteredError{ExistingID: existingID}
	}
	if _, ok := r.identities[identity.ID]; ok {
		return errors.ErrIDCollision
	}

	stored := identity
	if connID != "" {
		stored.ConnID = connID
		r.conns[connID] = stored.ID
	}
	r.identities[stored.ID] = &stored
	r.order = append(r.order, stored.ID)
	r.phones[stored.Phone] = stored.ID

	r.log.Info("Identity registered", "id", stored.ID, "phone", stored.Phone)
	return nil
}

// GetByPhone returns the full identity record, credential hash
// included. Reserved for the service layer; never exposed over the
// wire.
func (r *IdentityRegistry) GetByPhone(phone string) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.findByPhone(phone)
	if !ok {
		return domain.Identity{}, errors.ErrNotFound
	}
	return *identity, nil
}

func (r *IdentityRegistry) GetByID(id string) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[id]
	if !ok {
		return domain.Identity{}, errors.ErrNotFound
	}
	return *identity, nil
}

// Bind makes connID the live connection of identityID and stamps
// LastSeenAt. Last writer wins: a binding the connection previously
// held is displaced, and the reverse pointer it displaces is cleared.
// A different connection still bound to the same identity keeps its
// stale entry until it disconnects on its own.
func (r *IdentityRegistry) Bind(connID, identityID string) (domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.identities[identityID]
	if !ok {
		return domain.Summary{}, errors.ErrNotFound
	}

	if prevID, ok := r.conns[connID]; ok && prevID != identityID {
		if prev, ok := r.identities[prevID]; ok && prev.ConnID == connID {
			prev.ConnID = ""
		}
	}

	r.conns[connID] = identityID
	identity.ConnID = connID
	identity.LastSeenAt = time.Now().UTC()
	return identity.Public(), nil
}

func (r *IdentityRegistry) LookupByID(id string) (domain.Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[id]
	if !ok {
		return domain.Summary{}, false
	}
	return identity.Public(), true
}

// LookupByPhone normalizes its input and falls back to a raw exact
// match against the stored index.
func (r *IdentityRegistry) LookupByPhone(phone string) (domain.Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.findByPhone(phone)
	if !ok {
		return domain.Summary{}, false
	}
	return identity.Public(), true
}

func (r *IdentityRegistry) findByPhone(phone string) (*domain.Identity, bool) {
	if id, ok := r.phones[domain.NormalizePhone(phone)]; ok {
		return r.identities[id], true
	}
	if id, ok := r.phones[phone]; ok {
		return r.identities[id], true
	}
	return nil, false
}

// ListAll returns public summaries in insertion order.
func (r *IdentityRegistry) ListAll() []domain.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.order, func(id string, _ int) domain.Summary {
		return r.identities[id].Public()
	})
}

// ResolveConn maps a connection id to the identity bound to it.
func (r *IdentityRegistry) ResolveConn(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.conns[connID]
	return id, ok
}

// OnDisconnect clears the live-connection pointer of the identity
// bound to connID and stamps LastSeenAt. The identity record and the
// phone index entry are retained. No-op for an unbound connection.
func (r *IdentityRegistry) OnDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	identity, ok := r.identities[id]
	if !ok {
		return
	}
	if identity.ConnID == connID {
		identity.ConnID = ""
	}
	identity.LastSeenAt = time.Now().UTC()
	r.log.Debug("Connection unbound", "conn", connID, "id", id)
}

func (r *IdentityRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

// ClearAll atomically empties the identity table, the phone index and
// the connection index, and reports how many identities were dropped.
func (r *IdentityRegistry) ClearAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := len(r.identities)
	r.identities = make(map[string]*domain.Identity)
	r.order = nil
	r.phones = make(map[string]string)
	r.conns = make(map[string]string)
	r.log.Info("Identity registry cleared", "dropped", dropped)
	return dropped
}
