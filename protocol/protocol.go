// Package protocol defines the closed set of events exchanged with
// clients over the websocket transport, one typed record per event
// instead of loosely shaped payloads. Required fields are validated
// before any state mutation happens.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"relay-lab/domain"
	relayerrors "relay-lab/errors"
)

// Inbound event names.
const (
	EventRegister        = "register"
	EventLogin           = "login"
	EventResume          = "resume"
	EventFindUserByID    = "find_user_by_id"
	EventFindUserByPhone = "find_user_by_phone"
	EventGetAllUsers     = "get_all_users"
	EventJoinChannel     = "join_channel"
	EventSendMessage     = "send_message"
)

// Outbound broadcast event name.
const EventNewMessage = "new_message"

// Error kinds reported in acks.
const (
	KindMissingField      = "missing_field"
	KindAlreadyRegistered = "already_registered"
	KindIDExhausted       = "id_exhausted"
	KindNotFound          = "not_found"
	KindInvalidCredential = "invalid_credential"
	KindNotAuthenticated  = "not_authenticated"
	KindInvalidToken      = "invalid_token"
	KindBadRequest        = "bad_request"
	KindInternalError     = "internal_error"
)

var validate = validator.New()

// Envelope identifies an inbound frame. The remaining fields are
// decoded by the per-event request types below.
type Envelope struct {
	Event string `json:"event" validate:"required"`
}

type RegisterRequest struct {
	Phone   string `json:"phoneNumber" validate:"required"`
	Name    string `json:"name"`
	Secret  string `json:"secret"` // empty is accepted, and hashed
	Country string `json:"country"`
}

type LoginRequest struct {
	Phone  string `json:"phoneNumber" validate:"required"`
	Secret string `json:"secret" validate:"required"`
}

type ResumeRequest struct {
	Token string `json:"token" validate:"required"`
}

type FindUserByIDRequest struct {
	ID string `json:"id" validate:"required"`
}

type FindUserByPhoneRequest struct {
	Phone string `json:"phoneNumber" validate:"required"`
}

type JoinChannelRequest struct {
	ChannelID string `json:"channelId" validate:"required"`
	ID        string `json:"id"`
}

type SendMessageRequest struct {
	ChannelID string         `json:"channelId" validate:"required"`
	Message   InboundMessage `json:"message" validate:"required"`
}

// InboundMessage is the client's view of a message. Sender and
// timestamp are optional; the store fills them in.
type InboundMessage struct {
	SenderID string    `json:"senderId"`
	Payload  string    `json:"payload"`
	SentAt   time.Time `json:"sentAt"`
}

type RegisterAck struct {
	Event   string `json:"event"`
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"` // existing id on already_registered
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

type LoginAck struct {
	Event    string          `json:"event"`
	Success  bool            `json:"success"`
	ID       string          `json:"id,omitempty"`
	Identity *domain.Summary `json:"identity,omitempty"`
	Token    string          `json:"token,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type FindUserAck struct {
	Event    string          `json:"event"`
	Success  bool            `json:"success"`
	Identity *domain.Summary `json:"identity,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type UserListAck struct {
	Event   string           `json:"event"`
	Success bool             `json:"success"`
	Users   []domain.Summary `json:"users"`
}

type JoinChannelAck struct {
	Event     string           `json:"event"`
	Success   bool             `json:"success"`
	ChannelID string           `json:"channelId,omitempty"`
	History   []domain.Message `json:"history"`
	Error     string           `json:"error,omitempty"`
}

type SendMessageAck struct {
	Event   string `json:"event"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewMessageBroadcast wraps a stored message together with its channel
// for fan-out to every current member.
type NewMessageBroadcast struct {
	Event     string         `json:"event"`
	ChannelID string         `json:"channelId"`
	Message   domain.Message `json:"message"`
}

// ErrorKind maps a core error to the kind string reported in acks.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, relayerrors.ErrMissingField):
		return KindMissingField
	case errors.Is(err, relayerrors.ErrAlreadyRegistered):
		return KindAlreadyRegistered
	case errors.Is(err, relayerrors.ErrIDExhausted):
		return KindIDExhausted
	case errors.Is(err, relayerrors.ErrNotFound):
		return KindNotFound
	case errors.Is(err, relayerrors.ErrInvalidCredential):
		return KindInvalidCredential
	case errors.Is(err, relayerrors.ErrNotAuthenticated):
		return KindNotAuthenticated
	case errors.Is(err, relayerrors.ErrInvalidToken):
		return KindInvalidToken
	case errors.Is(err, relayerrors.ErrBadRequest):
		return KindBadRequest
	default:
		// Anything unmapped is a server-side fault, not the client's.
		return KindInternalError
	}
}

// Decode unmarshals a raw frame into a typed request and checks its
// required fields. A shape error maps to ErrBadRequest, an absent
// required field to ErrMissingField.
func Decode[T any](raw []byte) (T, error) {
	var req T
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("%w: %v", relayerrors.ErrBadRequest, err)
	}
	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %v", relayerrors.ErrMissingField, err)
	}
	return req, nil
}
