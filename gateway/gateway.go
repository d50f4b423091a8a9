package gateway

import (
	"context"
	"errors"
	"sync"
)

// Typed gateway errors
var (
	ErrSessionNotReady = errors.New("gateway session not ready")
	ErrNotRegistered   = errors.New("recipient is not registered")
)

// Gateway is the narrow interface this service consumes from the messaging
// gateway. Session lifecycle, wire protocol and media handling live behind it.
type Gateway interface {
	// IsSessionReady reports whether the user's messaging session is connected.
	IsSessionReady(ctx context.Context, userID uint) bool

	// IsRegistered checks whether the phone number has an account on the
	// messaging network.
	IsRegistered(ctx context.Context, userID uint, phone string) (bool, error)

	// SendText delivers a text message and returns the gateway message id.
	SendText(ctx context.Context, userID uint, phone, body string) (string, error)

	// SendMedia delivers a media message with caption and returns the gateway
	// message id.
	SendMedia(ctx context.Context, userID uint, phone, body, mediaURL, mediaKind string) (string, error)
}

// InboundMessage is an incoming message event from the gateway.
type InboundMessage struct {
	UserID           uint    `json:"user_id"`
	Sender           string  `json:"sender"`
	Body             string  `json:"body"`
	MediaURL         *string `json:"media_url,omitempty"`
	GatewayMessageID string  `json:"gateway_message_id"`
	Timestamp        int64   `json:"timestamp"` // unix seconds
}

// InboundHandler consumes inbound message events.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage)
}

// Subscriber registers handlers for inbound events. Handlers are injected at
// construction time; there is no global registration.
type Subscriber interface {
	Subscribe(h InboundHandler)
}

// Dispatcher fans inbound events out to subscribed handlers. It is the
// Subscriber implementation used both by the webhook receiver and by tests.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []InboundHandler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Subscribe(h InboundHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Dispatch delivers the event to every subscribed handler in order.
func (d *Dispatcher) Dispatch(ctx context.Context, msg InboundMessage) {
	d.mu.RLock()
	handlers := make([]InboundHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, h := range handlers {
		h.HandleInbound(ctx, msg)
	}
}
