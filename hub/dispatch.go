package hub

import (
	"encoding/json"
	stderrors "errors"

	"github.com/abadojack/whatlanggo"

	"relay-lab/domain"
	"relay-lab/errors"
	"relay-lab/protocol"
)

// Dispatch routes one inbound frame. Every event answers with a
// synchronous ack on the calling connection; send_message additionally
// broadcasts the stored message to the channel members.
func (h *Hub) Dispatch(c *Client, raw []byte) {
	env, err := protocol.Decode[protocol.Envelope](raw)
	if err != nil {
		h.reply(c, protocol.SendMessageAck{Event: "error", Error: protocol.KindBadRequest})
		return
	}

	switch env.Event {
	case protocol.EventRegister:
		h.handleRegister(c, raw)
	case protocol.EventLogin:
		h.handleLogin(c, raw)
	case protocol.EventResume:
		h.handleResume(c, raw)
	case protocol.EventFindUserByID:
		h.handleFindUserByID(c, raw)
	case protocol.EventFindUserByPhone:
		h.handleFindUserByPhone(c, raw)
	case protocol.EventGetAllUsers:
		h.reply(c, protocol.UserListAck{
			Event:   protocol.EventGetAllUsers,
			Success: true,
			Users:   h.registry.ListAll(),
		})
	case protocol.EventJoinChannel:
		h.handleJoinChannel(c, raw)
	case protocol.EventSendMessage:
		h.handleSendMessage(c, raw)
	default:
		h.log.Debug("Unknown event", "event", env.Event, "conn", c.ID)
		h.reply(c, protocol.SendMessageAck{Event: env.Event, Error: protocol.KindBadRequest})
	}
}

func (h *Hub) reply(c *Client, ack any) {
	frame, err := json.Marshal(ack)
	if err != nil {
		h.log.Error("Ack marshal failed", "err", err)
		return
	}
	h.push(c, frame)
}

func (h *Hub) handleRegister(c *Client, raw []byte) {
	req, err := protocol.Decode[protocol.RegisterRequest](raw)
	if err != nil {
		h.reply(c, protocol.RegisterAck{Event: protocol.EventRegister, Error: protocol.ErrorKind(err)})
		return
	}

	id, token, err := h.accounts.Register(c.ID, req.Phone, req.Name, req.Secret, req.Country)
	if err != nil {
		ack := protocol.RegisterAck{Event: protocol.EventRegister, Error: protocol.ErrorKind(err)}
		// A duplicate phone reports the id originally issued for it.
		var dup errors.AlreadyRegisteredError
		if stderrors.As(err, &dup) {
			ack.ID = dup.ExistingID
		}
		h.reply(c, ack)
		return
	}

	h.reply(c, protocol.RegisterAck{Event: protocol.EventRegister, Success: true, ID: id, Token: token})
}

func (h *Hub) handleLogin(c *Client, raw []byte) {
	req, err := protocol.Decode[protocol.LoginRequest](raw)
	if err != nil {
		h.reply(c, protocol.LoginAck{Event: protocol.EventLogin, Error: protocol.ErrorKind(err)})
		return
	}

	summary, token, err := h.accounts.Login(c.ID, req.Phone, req.Secret)
	if err != nil {
		h.reply(c, protocol.LoginAck{Event: protocol.EventLogin, Error: protocol.ErrorKind(err)})
		return
	}

	h.reply(c, protocol.LoginAck{
		Event:    protocol.EventLogin,
		Success:  true,
		ID:       summary.ID,
		Identity: &summary,
		Token:    token,
	})
}

func (h *Hub) handleResume(c *Client, raw []byte) {
	req, err := protocol.Decode[protocol.ResumeRequest](raw)
	if err != nil {
		h.reply(c, protocol.LoginAck{Event: protocol.EventResume, Error: protocol.ErrorKind(err)})
		return
	}

	summary, err := h.accounts.Resume(c.ID, req.Token)
	if err != nil {
		h.reply(c, protocol.LoginAck{Event: protocol.EventResume, Error: protocol.ErrorKind(err)})
		return
	}

	h.reply(c, protocol.LoginAck{
		Event:    protocol.EventResume,
		Success:  true,
		ID:       summary.ID,
		Identity: &summary,
	})
}

func (h *Hub) handleFindUserByID(c *Client, raw []byte) {
	req, err := protocol.Decode[protocol.FindUserByIDRequest](raw)
	if err != nil {
		h.reply(c, protocol.FindUserAck{Event: protocol.EventFindUserByID, Error: protocol.ErrorKind(err)})
		return
	}

	summary, ok := h.registry.LookupByID(req.ID)
	if !ok {
		h.reply(c, protocol.FindUserAck{Event: protocol.EventFindUserByID, Error: protocol.KindNotFound})
		return
	}
	h.reply(c, protocol.FindUserAck{Event: protocol.EventFindUserByID, Success: true, Identity: &summary})
}

func (h *Hub) handleFindUserByPhone(c *Client, raw []byte) {
	req, err := protocol.Decode[protocol.FindUserByPhoneRequest](raw)
	if err != nil {
		h.reply(c, protocol.FindUserAck{Event: protocol.EventFindUserByPhone, Error: protocol.ErrorKind(err)})
		return
	}

	summary, ok := h.registry.LookupByPhone(req.Phone)
	if !ok {
		h.reply(c, protocol.FindUserAck{Event: protocol.EventFindUserByPhone, Error: protocol.KindNotFound})
		return
	}
	h.reply(c, protocol.FindUserAck{Event: protocol.EventFindUserByPhone, Success: true, Identity: &summary})
}

func (h *Hub) handleJoinChannel(c *Client, raw []byte) {
	req, err := protocol.Decode[protocol.JoinChannelRequest](raw)
	if err != nil {
		h.reply(c, protocol.JoinChannelAck{Event: protocol.EventJoinChannel, Error: protocol.ErrorKind(err)})
		return
	}
	if !h.authorized(c) {
		h.reply(c, protocol.JoinChannelAck{Event: protocol.EventJoinChannel, Error: protocol.KindNotAuthenticated})
		return
	}

	// The snapshot and the membership add happen under the fan-out
	// lock: an in-flight send is either fully in the history returned
	// here or fully delivered as a broadcast, never both.
	h.orderMu.Lock()
	defer h.orderMu.Unlock()

	history, err := h.store.Join(req.ChannelID, c.ID)
	if err != nil {
		h.reply(c, protocol.JoinChannelAck{Event: protocol.EventJoinChannel, Error: protocol.ErrorKind(err)})
		return
	}

	if history == nil {
		history = []domain.Message{}
	}
	h.reply(c, protocol.JoinChannelAck{
		Event:     protocol.EventJoinChannel,
		Success:   true,
		ChannelID: req.ChannelID,
		History:   history,
	})
}

func (h *Hub) handleSendMessage(c *Client, raw []byte) {
	req, err := protocol.Decode[protocol.SendMessageRequest](raw)
	if err != nil {
		h.reply(c, protocol.SendMessageAck{Event: protocol.EventSendMessage, Error: protocol.ErrorKind(err)})
		return
	}
	if !h.authorized(c) {
		h.reply(c, protocol.SendMessageAck{Event: protocol.EventSendMessage, Error: protocol.KindNotAuthenticated})
		return
	}

	payload := req.Message.Payload
	if h.moderator != nil && payload != "" {
		masked, matched := h.moderator.Censor(payload)
		if len(matched) > 0 {
			h.log.Info("Message payload censored", "conn", c.ID, "words", len(matched))
		}
		payload = masked
	}

	msg := domain.Message{
		SenderID: req.Message.SenderID,
		Payload:  payload,
		SentAt:   req.Message.SentAt,
	}
	if payload != "" {
		// Best effort tag, same detector as the moderation pipeline.
		msg.Language = whatlanggo.Detect(payload).Lang.Iso6391()
	}

	// Append and fan-out form one critical section. Two concurrent
	// senders enqueue their broadcasts in the order the store recorded
	// them, so delivery order always matches history order.
	h.orderMu.Lock()
	defer h.orderMu.Unlock()

	stored, err := h.store.Append(req.ChannelID, c.ID, msg)
	if err != nil {
		h.reply(c, protocol.SendMessageAck{Event: protocol.EventSendMessage, Error: protocol.ErrorKind(err)})
		return
	}

	h.reply(c, protocol.SendMessageAck{Event: protocol.EventSendMessage, Success: true})

	frame, err := json.Marshal(protocol.NewMessageBroadcast{
		Event:     protocol.EventNewMessage,
		ChannelID: stored.ChannelID,
		Message:   stored,
	})
	if err != nil {
		h.log.Error("Broadcast marshal failed", "err", err)
		return
	}
	h.broadcast(stored.ChannelID, frame)
}

// authorized gates messaging on a bound identity only when the
// deployment asks for it; the default accepts messages from
// connected-but-anonymous clients.
func (h *Hub) authorized(c *Client) bool {
	if !h.opts.RequireAuth {
		return true
	}
	_, ok := h.registry.ResolveConn(c.ID)
	return ok
}
