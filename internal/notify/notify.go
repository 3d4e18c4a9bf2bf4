// Package notify delivers wallet events to interested parties once a trade
// has committed. Delivery is best effort and never blocks or fails a trade.
package notify

import (
	"context"

	"github.com/bitchest/wallet-engine/internal/model"
)

// Notifier receives committed wallet events.
type Notifier interface {
	BalanceChanged(ctx context.Context, ev model.BalanceChanged)
	TransactionCompleted(ctx context.Context, ev model.TransactionCompleted)
}

// Message is the JSON envelope sent to subscribers.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Multi fans every event out to each notifier in order.
type Multi []Notifier

func (m Multi) BalanceChanged(ctx context.Context, ev model.BalanceChanged) {
	for _, n := range m {
		n.BalanceChanged(ctx, ev)
	}
}

func (m Multi) TransactionCompleted(ctx context.Context, ev model.TransactionCompleted) {
	for _, n := range m {
		n.TransactionCompleted(ctx, ev)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) BalanceChanged(context.Context, model.BalanceChanged)             {}
func (Nop) TransactionCompleted(context.Context, model.TransactionCompleted) {}
