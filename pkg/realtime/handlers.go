package realtime

import (
	"encoding/json"
	"fmt"
)

// Handlers receives session lifecycle and server events. Every field is
// optional. Callbacks run on the session's reader goroutine and must not
// block for long.
type Handlers struct {
	// OnConnect runs after each successful registration, once the offline
	// queue has been flushed.
	OnConnect func()
	// OnDisconnect runs when a registered connection is lost.
	OnDisconnect func(err error)
	// OnError runs on every failed connection attempt.
	OnError func(err error)
	// OnGiveUp runs once reconnection attempts are exhausted.
	OnGiveUp func(err error)

	OnServerError         func(ErrorEvent)
	OnMessage             func(MessageEvent)
	OnTypingStart         func(TypingEvent)
	OnTypingStop          func(TypingEvent)
	OnMessageRead         func(ReceiptEvent)
	OnMessageDelivered    func(ReceiptEvent)
	OnReactionAdded       func(ReactionEvent)
	OnReactionRemoved     func(ReactionEvent)
	OnUserOnline          func(PresenceEvent)
	OnUserOffline         func(PresenceEvent)
	OnUserJoined          func(MembershipEvent)
	OnUserLeft            func(MembershipEvent)
	OnConversationUpdated func(ConversationUpdate)
}

// dispatch routes one server event. Unknown events are ignored.
func (h Handlers) dispatch(env Envelope) error {
	switch env.Event {
	case EventError:
		return invoke(h.OnServerError, env)
	case EventMessageReceived:
		return invoke(h.OnMessage, env)
	case EventTypingIndicator:
		if h.OnTypingStart == nil && h.OnTypingStop == nil {
			return nil
		}
		var ev TypingEvent
		if err := decode(env, &ev); err != nil {
			return err
		}
		if ev.IsTyping {
			if h.OnTypingStart != nil {
				h.OnTypingStart(ev)
			}
		} else if h.OnTypingStop != nil {
			h.OnTypingStop(ev)
		}
		return nil
	case EventMessageMarkedRead:
		return invoke(h.OnMessageRead, env)
	case EventMessageDelivered:
		return invoke(h.OnMessageDelivered, env)
	case EventReactionAdded:
		return invoke(h.OnReactionAdded, env)
	case EventReactionRemoved:
		return invoke(h.OnReactionRemoved, env)
	case EventUserOnline:
		return invoke(h.OnUserOnline, env)
	case EventUserOffline:
		return invoke(h.OnUserOffline, env)
	case EventUserJoined:
		return invoke(h.OnUserJoined, env)
	case EventUserLeft:
		return invoke(h.OnUserLeft, env)
	case EventConversationUpdated:
		return invoke(h.OnConversationUpdated, env)
	}
	return nil
}

func invoke[T any](fn func(T), env Envelope) error {
	if fn == nil {
		return nil
	}
	var v T
	if err := decode(env, &v); err != nil {
		return err
	}
	fn(v)
	return nil
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return nil
}
