package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"relay-lab/auth"
	"relay-lab/domain"
	"relay-lab/idgen"
	"relay-lab/moderation"
	"relay-lab/protocol"
	"relay-lab/repositories"
	"relay-lab/services"
)

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := repositories.NewIdentityRegistry(log)
	store := repositories.NewChannelStore(registry, log)
	tokens := auth.NewTokenIssuer([]byte("test-signing-key"), time.Hour)
	accounts := services.NewAccountService(registry, idgen.NewShortIDGenerator(), tokens, log)

	moderator, err := moderation.NewModerator([]string{"snake"}, '*', log)
	require.NoError(t, err)

	return NewHub(log, accounts, registry, store, moderator, opts)
}

// connect attaches a pumpless client, driven directly via Dispatch.
func connect(h *Hub, id string) *Client {
	c := newClient(id, h, nil, 16)
	h.attach(c)
	return c
}

// recv decodes the next frame queued on the client, failing when none
// is pending: dispatch acks synchronously.
func recv[T any](t *testing.T, c *Client) T {
	t.Helper()
	var out T
	select {
	case frame := <-c.Send:
		require.NoError(t, json.Unmarshal(frame, &out))
	default:
		t.Fatalf("no frame pending on %s", c.ID)
	}
	return out
}

func noFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.Send:
		t.Fatalf("unexpected frame on %s: %s", c.ID, frame)
	default:
	}
}

func register(t *testing.T, h *Hub, c *Client, phone, name, secret string) protocol.RegisterAck {
	t.Helper()
	h.Dispatch(c, []byte(fmt.Sprintf(
		`{"event":"register","phoneNumber":"%s","name":"%s","secret":"%s"}`, phone, name, secret)))
	return recv[protocol.RegisterAck](t, c)
}

func TestHub_RegisterAndLogin(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	ann := connect(h, "conn-ann")

	ack := register(t, h, ann, "5551234", "Ann", "s3cret")
	req.True(ack.Success)
	req.Len(ack.ID, idgen.Length)
	req.NotEmpty(ack.Token)

	t.Run("duplicate phone reports the original id", func(t *testing.T) {
		r := require.New(t)
		other := connect(h, "conn-other")

		dup := register(t, h, other, "+555 1234", "Imposter", "nope")
		r.False(dup.Success)
		r.Equal(protocol.KindAlreadyRegistered, dup.Error)
		r.Equal(ack.ID, dup.ID)
	})

	t.Run("login with the right secret returns a summary", func(t *testing.T) {
		r := require.New(t)
		second := connect(h, "conn-ann-2")

		h.Dispatch(second, []byte(`{"event":"login","phoneNumber":"5551234","secret":"s3cret"}`))
		login := recv[protocol.LoginAck](t, second)
		r.True(login.Success)
		r.Equal(ack.ID, login.ID)
		r.NotNil(login.Identity)
		r.Equal("+5551234", login.Identity.Phone)
		r.NotEmpty(login.Token)
	})

	t.Run("login with a wrong secret is rejected", func(t *testing.T) {
		r := require.New(t)
		second := connect(h, "conn-ann-3")

		h.Dispatch(second, []byte(`{"event":"login","phoneNumber":"5551234","secret":"wrong"}`))
		login := recv[protocol.LoginAck](t, second)
		r.False(login.Success)
		r.Equal(protocol.KindInvalidCredential, login.Error)
	})

	t.Run("resume rebinds from the session token", func(t *testing.T) {
		r := require.New(t)
		second := connect(h, "conn-ann-4")

		h.Dispatch(second, []byte(fmt.Sprintf(`{"event":"resume","token":"%s"}`, ack.Token)))
		resume := recv[protocol.LoginAck](t, second)
		r.True(resume.Success)
		r.Equal(ack.ID, resume.ID)
	})
}

func TestHub_Lookups(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	ann := connect(h, "conn-ann")

	ack := register(t, h, ann, "5551234", "Ann", "s3cret")
	req.True(ack.Success)

	h.Dispatch(ann, []byte(fmt.Sprintf(`{"event":"find_user_by_id","id":"%s"}`, ack.ID)))
	found := recv[protocol.FindUserAck](t, ann)
	req.True(found.Success)
	req.Equal("Ann", found.Identity.Name)

	h.Dispatch(ann, []byte(`{"event":"find_user_by_id","id":"zzz9999"}`))
	missing := recv[protocol.FindUserAck](t, ann)
	req.False(missing.Success)
	req.Equal(protocol.KindNotFound, missing.Error)

	h.Dispatch(ann, []byte(`{"event":"find_user_by_phone","phoneNumber":"555 1234"}`))
	byPhone := recv[protocol.FindUserAck](t, ann)
	req.True(byPhone.Success)
	req.Equal(ack.ID, byPhone.Identity.ID)

	h.Dispatch(ann, []byte(`{"event":"get_all_users"}`))
	all := recv[protocol.UserListAck](t, ann)
	req.True(all.Success)
	req.Len(all.Users, 1)
}

// Ann and Bo register, derive the same pair channel independently,
// and messages flow with history backfill.
func TestHub_PairMessaging(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	ann := connect(h, "conn-ann")
	bo := connect(h, "conn-bo")

	a := register(t, h, ann, "5551234", "Ann", "s3cret")
	b := register(t, h, bo, "5557777", "Bo", "s3cret")
	req.True(a.Success)
	req.True(b.Success)

	channelID := domain.PairChannelID(a.ID, b.ID)
	req.Equal(channelID, domain.PairChannelID(b.ID, a.ID))

	// Ann joins first: empty history
	h.Dispatch(ann, []byte(fmt.Sprintf(`{"event":"join_channel","channelId":"%s","id":"%s"}`, channelID, a.ID)))
	join := recv[protocol.JoinChannelAck](t, ann)
	req.True(join.Success)
	req.Empty(join.History)

	// Ann sends: ack first, then the echo-back broadcast
	h.Dispatch(ann, []byte(fmt.Sprintf(
		`{"event":"send_message","channelId":"%s","message":{"payload":"hi"}}`, channelID)))
	sendAck := recv[protocol.SendMessageAck](t, ann)
	req.True(sendAck.Success)

	echo := recv[protocol.NewMessageBroadcast](t, ann)
	req.Equal(protocol.EventNewMessage, echo.Event)
	req.Equal(channelID, echo.ChannelID)
	req.Equal(a.ID, echo.Message.SenderID)
	req.Equal("hi", echo.Message.Payload)

	// Bo was not a member yet: nothing delivered
	noFrame(t, bo)

	// Bo joins afterwards and backfills that one message
	h.Dispatch(bo, []byte(fmt.Sprintf(`{"event":"join_channel","channelId":"%s","id":"%s"}`, channelID, b.ID)))
	boJoin := recv[protocol.JoinChannelAck](t, bo)
	req.True(boJoin.Success)
	req.Len(boJoin.History, 1)
	req.Equal(a.ID, boJoin.History[0].SenderID)
	req.Equal("hi", boJoin.History[0].Payload)

	// From here on both members observe every message, in send order
	for i := 0; i < 3; i++ {
		h.Dispatch(ann, []byte(fmt.Sprintf(
			`{"event":"send_message","channelId":"%s","message":{"payload":"msg %d"}}`, channelID, i)))
		ack := recv[protocol.SendMessageAck](t, ann)
		req.True(ack.Success)
		recv[protocol.NewMessageBroadcast](t, ann) // echo-back
	}
	for i := 0; i < 3; i++ {
		bc := recv[protocol.NewMessageBroadcast](t, bo)
		req.Equal(fmt.Sprintf("msg %d", i), bc.Message.Payload)
	}
	noFrame(t, bo)
}

func TestHub_JoinTwice_NoDuplicateDelivery(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	ann := connect(h, "conn-ann")

	a := register(t, h, ann, "5551234", "Ann", "s3cret")
	channelID := domain.PairChannelID(a.ID, "zzz9999")

	for i := 0; i < 2; i++ {
		h.Dispatch(ann, []byte(fmt.Sprintf(`{"event":"join_channel","channelId":"%s"}`, channelID)))
		join := recv[protocol.JoinChannelAck](t, ann)
		req.True(join.Success)
	}

	h.Dispatch(ann, []byte(fmt.Sprintf(
		`{"event":"send_message","channelId":"%s","message":{"payload":"once"}}`, channelID)))
	recv[protocol.SendMessageAck](t, ann)

	// Exactly one broadcast, despite the double join
	recv[protocol.NewMessageBroadcast](t, ann)
	noFrame(t, ann)
}

func TestHub_UnauthenticatedMessaging(t *testing.T) {
	t.Run("allowed by default, sender falls back to the sentinel", func(t *testing.T) {
		req := require.New(t)
		h := newTestHub(t, Options{})
		ghost := connect(h, "conn-ghost")

		h.Dispatch(ghost, []byte(`{"event":"join_channel","channelId":"lobby"}`))
		join := recv[protocol.JoinChannelAck](t, ghost)
		req.True(join.Success)

		h.Dispatch(ghost, []byte(`{"event":"send_message","channelId":"lobby","message":{"payload":"anyone?"}}`))
		ack := recv[protocol.SendMessageAck](t, ghost)
		req.True(ack.Success)

		bc := recv[protocol.NewMessageBroadcast](t, ghost)
		req.Equal(domain.UnknownSender, bc.Message.SenderID)
	})

	t.Run("rejected when the deployment requires auth", func(t *testing.T) {
		req := require.New(t)
		h := newTestHub(t, Options{RequireAuth: true})
		ghost := connect(h, "conn-ghost")

		h.Dispatch(ghost, []byte(`{"event":"join_channel","channelId":"lobby"}`))
		join := recv[protocol.JoinChannelAck](t, ghost)
		req.False(join.Success)
		req.Equal(protocol.KindNotAuthenticated, join.Error)

		h.Dispatch(ghost, []byte(`{"event":"send_message","channelId":"lobby","message":{"payload":"hi"}}`))
		send := recv[protocol.SendMessageAck](t, ghost)
		req.False(send.Success)
		req.Equal(protocol.KindNotAuthenticated, send.Error)
	})
}

func TestHub_PayloadModeration(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	ann := connect(h, "conn-ann")

	register(t, h, ann, "5551234", "Ann", "s3cret")
	h.Dispatch(ann, []byte(`{"event":"join_channel","channelId":"lobby"}`))
	recv[protocol.JoinChannelAck](t, ann)

	h.Dispatch(ann, []byte(`{"event":"send_message","channelId":"lobby","message":{"payload":"you snake"}}`))
	recv[protocol.SendMessageAck](t, ann)

	bc := recv[protocol.NewMessageBroadcast](t, ann)
	req.Equal("you *****", bc.Message.Payload)
}

func TestHub_Detach_CleansUpButRetainsIdentity(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	ann := connect(h, "conn-ann")
	bo := connect(h, "conn-bo")

	a := register(t, h, ann, "5551234", "Ann", "s3cret")
	register(t, h, bo, "5557777", "Bo", "s3cret")

	channelID := "lobby"
	h.Dispatch(ann, []byte(`{"event":"join_channel","channelId":"lobby"}`))
	recv[protocol.JoinChannelAck](t, ann)
	h.Dispatch(bo, []byte(`{"event":"join_channel","channelId":"lobby"}`))
	recv[protocol.JoinChannelAck](t, bo)

	h.Detach(ann)
	req.Equal(1, h.ConnectionCount())

	// The identity survives, offline; the membership entry does not
	summary, ok := h.registry.LookupByID(a.ID)
	req.True(ok)
	req.False(summary.Online)
	req.Equal([]string{"conn-bo"}, h.store.Members(channelID))

	// A message sent now reaches Bo only
	h.Dispatch(bo, []byte(`{"event":"send_message","channelId":"lobby","message":{"payload":"still here"}}`))
	recv[protocol.SendMessageAck](t, bo)
	recv[protocol.NewMessageBroadcast](t, bo)

	// Detaching twice is harmless
	h.Detach(ann)
	req.Equal(1, h.ConnectionCount())
}

func TestHub_MalformedAndUnknownEvents(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	c := connect(h, "conn-1")

	h.Dispatch(c, []byte(`not json at all`))
	bad := recv[protocol.SendMessageAck](t, c)
	req.Equal(protocol.KindBadRequest, bad.Error)

	h.Dispatch(c, []byte(`{"event":"teleport"}`))
	unknown := recv[protocol.SendMessageAck](t, c)
	req.Equal(protocol.KindBadRequest, unknown.Error)

	// Required field missing: register without a phone number
	h.Dispatch(c, []byte(`{"event":"register","name":"Ann"}`))
	reg := recv[protocol.RegisterAck](t, c)
	req.False(reg.Success)
	req.Equal(protocol.KindMissingField, reg.Error)
}

func TestHub_ConcurrentSenders_DeliveryMatchesHistory(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})

	// The observer is the only member; senders collect acks only.
	observer := newClient("conn-obs", h, nil, 256)
	h.attach(observer)
	h.Dispatch(observer, []byte(`{"event":"join_channel","channelId":"lobby"}`))
	recv[protocol.JoinChannelAck](t, observer)

	const senders = 4
	const perSender = 25

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			c := newClient(fmt.Sprintf("conn-s%d", s), h, nil, perSender+1)
			h.attach(c)
			for i := 0; i < perSender; i++ {
				h.Dispatch(c, []byte(fmt.Sprintf(
					`{"event":"send_message","channelId":"lobby","message":{"payload":"s%d-%d"}}`, s, i)))
			}
		}(s)
	}
	wg.Wait()

	// Every broadcast is enqueued by the time Dispatch returns
	delivered := make([]string, 0, senders*perSender)
	for i := 0; i < senders*perSender; i++ {
		bc := recv[protocol.NewMessageBroadcast](t, observer)
		delivered = append(delivered, bc.Message.Payload)
	}
	noFrame(t, observer)

	late := newClient("conn-late", h, nil, 256)
	h.attach(late)
	h.Dispatch(late, []byte(`{"event":"join_channel","channelId":"lobby"}`))
	join := recv[protocol.JoinChannelAck](t, late)
	req.True(join.Success)

	history := make([]string, 0, len(join.History))
	for _, msg := range join.History {
		history = append(history, msg.Payload)
	}
	req.Equal(history, delivered)
}

// gatedStore parks the first append on its way back to the hub, holding
// the send in the gap between store write and broadcast.
type gatedStore struct {
	repositories.IChannelStore
	gate chan struct{}
	once sync.Once
}

func (g *gatedStore) Append(channelID, connID string, msg domain.Message) (domain.Message, error) {
	stored, err := g.IChannelStore.Append(channelID, connID, msg)
	g.once.Do(func() { <-g.gate })
	return stored, err
}

func TestHub_InFlightSend_IsAtomicWithFanout(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := repositories.NewIdentityRegistry(log)
	gate := make(chan struct{})
	store := &gatedStore{IChannelStore: repositories.NewChannelStore(registry, log), gate: gate}
	tokens := auth.NewTokenIssuer([]byte("test-signing-key"), time.Hour)
	accounts := services.NewAccountService(registry, idgen.NewShortIDGenerator(), tokens, log)
	h := NewHub(log, accounts, registry, store, nil, Options{})

	observer := connect(h, "conn-obs")
	h.Dispatch(observer, []byte(`{"event":"join_channel","channelId":"lobby"}`))
	recv[protocol.JoinChannelAck](t, observer)

	// The first sender parks between its append and its broadcast
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		c := connect(h, "conn-a")
		h.Dispatch(c, []byte(`{"event":"send_message","channelId":"lobby","message":{"payload":"first"}}`))
	}()
	time.Sleep(50 * time.Millisecond)

	// A second sender and a joiner arrive while the first is in flight
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		c := connect(h, "conn-b")
		h.Dispatch(c, []byte(`{"event":"send_message","channelId":"lobby","message":{"payload":"second"}}`))
	}()
	joiner := connect(h, "conn-join")
	joinDone := make(chan struct{})
	go func() {
		defer close(joinDone)
		h.Dispatch(joiner, []byte(`{"event":"join_channel","channelId":"lobby"}`))
	}()
	time.Sleep(50 * time.Millisecond)

	close(gate)
	<-firstDone
	<-secondDone
	<-joinDone

	// The observer sees the messages in append order
	req.Equal("first", recv[protocol.NewMessageBroadcast](t, observer).Message.Payload)
	req.Equal("second", recv[protocol.NewMessageBroadcast](t, observer).Message.Payload)
	noFrame(t, observer)

	// The joiner sees each message exactly once: whatever landed in its
	// history snapshot is not broadcast to it again
	join := recv[protocol.JoinChannelAck](t, joiner)
	req.True(join.Success)
	seen := len(join.History)
	for {
		select {
		case frame := <-joiner.Send:
			var bc protocol.NewMessageBroadcast
			req.NoError(json.Unmarshal(frame, &bc))
			req.Equal(protocol.EventNewMessage, bc.Event)
			seen++
		default:
			req.Equal(2, seen)
			return
		}
	}
}
