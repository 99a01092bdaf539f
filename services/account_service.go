package services

import (
	"fmt"
	"log/slog"
	"time"

	"relay-lab/auth"
	"relay-lab/domain"
	"relay-lab/errors"
	"relay-lab/idgen"
	"relay-lab/repositories"
)

// maxIDAttempts bounds the register retry loop on short-id collisions.
// With 32^7 possible ids a single collision is already unlikely; five
// in a row means something is wrong with the generator.
const maxIDAttempts = 5

type IAccountService interface {
	Register(connID, phone, name, secret, country string) (string, string, error)
	Login(connID, phone, secret string) (domain.Summary, string, error)
	Resume(connID, token string) (domain.Summary, error)
}

// AccountService implements the register/login/resume flows on top of
// the identity registry. Hashing happens here so the repository never
// sees a plain secret.
type AccountService struct {
	registry repositories.IIdentityRegistry
	ids      idgen.Generator
	tokens   *auth.TokenIssuer
	log      *slog.Logger
}

func NewAccountService(registry repositories.IIdentityRegistry, ids idgen.Generator,
	tokens *auth.TokenIssuer, log *slog.Logger) *AccountService {
	return &AccountService{registry: registry, ids: ids, tokens: tokens, log: log}
}

// Register creates a new identity for a phone number and binds the
// issuing connection to it. Returns the new id and a session token.
// A duplicate phone fails with AlreadyRegisteredError carrying the
// original id; five id collisions in a row fail with ErrIDExhausted.
func (s *AccountService) Register(connID, phone, name, secret, country string) (string, string, error) {
	if phone == "" {
		return "", "", errors.ErrMissingField
	}
	normalized := domain.NormalizePhone(phone)
	if normalized == "" {
		return "", "", errors.ErrMissingField
	}

	// 1. Hash the secret before touching any shared state. An empty
	// secret is hashed too, not rejected; such accounts authenticate
	// through their session token.
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return "", "", fmt.Errorf("hashing failed: %w", err)
	}

	// 2. Issue a candidate id and insert, retrying on collision. The
	// registry checks phone uniqueness and id uniqueness in the same
	// critical section as the insert.
	now := time.Now().UTC()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.ids.NewID()
		if err != nil {
			return "", "", fmt.Errorf("id generation failed: %w", err)
		}

		identity := domain.Identity{
			ID:             id,
			Phone:          normalized,
			Name:           name,
			CredentialHash: hash,
			Country:        country,
			Language:       domain.DefaultLanguage,
			CreatedAt:      now,
			LastSeenAt:     now,
		}

		err = s.registry.Create(identity, connID)
		switch {
		case err == nil:
			token, err := s.tokens.Issue(id)
			if err != nil {
				return "", "", errors.ErrTokenGeneration
			}
			return id, token, nil
		case err == errors.ErrIDCollision:
			s.log.Warn("Short id collision, retrying", "attempt", attempt+1)
			continue
		default:
			return "", "", err
		}
	}

	return "", "", errors.ErrIDExhausted
}

// Login authenticates a phone/secret pair and rebinds the calling
// connection as the identity's live connection. A failed credential
// check never touches LastSeenAt.
func (s *AccountService) Login(connID, phone, secret string) (domain.Summary, string, error) {
	if phone == "" || secret == "" {
		return domain.Summary{}, "", errors.ErrMissingField
	}

	identity, err := s.registry.GetByPhone(phone)
	if err != nil {
		return domain.Summary{}, "", err
	}

	match, err := auth.CompareSecret(secret, identity.CredentialHash)
	if err != nil || !match {
		return domain.Summary{}, "", errors.ErrInvalidCredential
	}

	summary, err := s.registry.Bind(connID, identity.ID)
	if err != nil {
		return domain.Summary{}, "", err
	}

	token, err := s.tokens.Issue(identity.ID)
	if err != nil {
		return domain.Summary{}, "", errors.ErrTokenGeneration
	}
	return summary, token, nil
}

// Resume rebinds a connection from a session token instead of
// credentials, for reconnects within the token lifetime.
func (s *AccountService) Resume(connID, token string) (domain.Summary, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return domain.Summary{}, errors.ErrInvalidToken
	}
	return s.registry.Bind(connID, claims.IdentityID)
}
