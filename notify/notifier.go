// Package notify delivers best-effort outcome notifications to waiting
// clients. Delivery failures are logged and never affect pipeline state.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBufferFull is returned when a bounded notifier cannot accept a delivery
var ErrBufferFull = errors.New("notification buffer full")

// Kind classifies the outcome being broadcast
type Kind string

const (
	KindDenied          Kind = "denied"
	KindProposalCreated Kind = "proposal:created"
	KindCompleted       Kind = "completed"
)

// Notification is a user-scoped outcome message. RequestID carries the
// caller-supplied id so a waiting client can match its original API call.
type Notification struct {
	Kind      Kind                   `json:"kind"`
	RequestID string                 `json:"request_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Notifier broadcasts outcomes to a user's live clients
type Notifier interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, notification Notification) error
}

// LogNotifier is the default notifier: it records the broadcast in the log.
// The realtime transport is an external collaborator wired in deployment.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyUser logs the notification
func (n *LogNotifier) NotifyUser(ctx context.Context, userID uuid.UUID, notification Notification) error {
	n.logger.Info("outcome notification",
		zap.String("user_id", userID.String()),
		zap.String("kind", string(notification.Kind)),
		zap.String("request_id", notification.RequestID))
	return nil
}

// ChannelNotifier delivers notifications to an in-process channel.
// Used by tests and local tooling to observe pipeline outcomes.
type ChannelNotifier struct {
	ch chan Delivered
}

// Delivered pairs a notification with its recipient
type Delivered struct {
	UserID       uuid.UUID
	Notification Notification
}

// NewChannelNotifier creates a channel-backed notifier with the given buffer
func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan Delivered, buffer)}
}

// NotifyUser queues the notification, dropping it when the buffer is full
func (n *ChannelNotifier) NotifyUser(ctx context.Context, userID uuid.UUID, notification Notification) error {
	select {
	case n.ch <- Delivered{UserID: userID, Notification: notification}:
		return nil
	default:
		return ErrBufferFull
	}
}

// C exposes the delivery channel
func (n *ChannelNotifier) C() <-chan Delivered {
	return n.ch
}
