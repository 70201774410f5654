// Package notify composes and delivers the status-transition messages for
// customers and the operator. Delivery is fire-and-forget: a failed send is
// logged and counted, never returned to the state machine that triggered it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/bikastore/backend/internal/domain"
	"github.com/bikastore/backend/internal/telegram"
)

// Callback action prefixes shared with the webhook dispatcher.
const (
	ActionGame    = "game"
	ActionPackage = "package"
	ActionConfirm = "confirm"
	ActionApprove = "approve"
	ActionReject  = "reject"
)

const sendTimeout = 10 * time.Second

// Sender is the outbound half of the Telegram client.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (int64, error)
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string, keyboard *telegram.InlineKeyboardMarkup) (int64, error)
}

// Recorder tracks customer-bound message ids for later cleanup.
type Recorder interface {
	Record(chatID, messageID int64)
}

// OrderMessageLog persists outbound message ids on the order record itself.
type OrderMessageLog interface {
	RecordChatMessage(ctx context.Context, orderID, messageID int64)
}

type Notifier struct {
	sender         Sender
	recorder       Recorder
	orderLog       OrderMessageLog
	operatorChatID int64
	storeURL       string
	logger         *slog.Logger
	failures       metric.Int64Counter
}

func NewNotifier(sender Sender, recorder Recorder, orderLog OrderMessageLog, operatorChatID int64, storeURL string, logger *slog.Logger) *Notifier {
	meter := otel.Meter("notify")
	failures, err := meter.Int64Counter("notify.delivery.failures",
		metric.WithDescription("outbound chat messages that could not be delivered"))
	if err != nil {
		logger.Warn("failed to register delivery failure counter", "error", err)
	}

	return &Notifier{
		sender:         sender,
		recorder:       recorder,
		orderLog:       orderLog,
		operatorChatID: operatorChatID,
		storeURL:       storeURL,
		logger:         logger,
		failures:       failures,
	}
}

// OperatorReview forwards the proof slip to the operator with the
// approve/reject controls. Called after the order is persisted at
// pending_operator_review.
func (n *Notifier) OperatorReview(ctx context.Context, order *domain.Order) {
	caption := "New order pending review\n\n" + OrderCaption(order) + "\n\nOperator action:"
	keyboard := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "Approve", CallbackData: fmt.Sprintf("%s:%d", ActionApprove, order.ID)},
			{Text: "Reject", CallbackData: fmt.Sprintf("%s:%d", ActionReject, order.ID)},
		}},
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var err error
	if order.ProofRef != "" {
		_, err = n.sender.SendPhoto(ctx, n.operatorChatID, order.ProofRef, caption, keyboard)
	} else {
		_, err = n.sender.SendMessage(ctx, n.operatorChatID, caption, keyboard)
	}
	if err != nil {
		n.deliveryFailed(ctx, "operator_review", order, err)
	}
}

// CustomerQueued tells the customer the order went off to the operator.
func (n *Notifier) CustomerQueued(ctx context.Context, order *domain.Order) {
	n.sendToCustomer(ctx, "customer_queued", order,
		fmt.Sprintf("Order %s has been sent to the operator. Please hold on.", order.Code), nil)
}

// CustomerDecision tells the customer the operator's verdict.
func (n *Notifier) CustomerDecision(ctx context.Context, order *domain.Order, approved bool) {
	var text string
	if approved {
		text = fmt.Sprintf("Order %s is completed. Thank you for your purchase!", order.Code)
	} else {
		text = fmt.Sprintf("Order %s was rejected by the operator. Contact support if you need help.", order.Code)
	}
	n.sendToCustomer(ctx, "customer_decision", order, text, nil)
}

// ConfirmPrompt echoes the submitted slip back with the order summary and a
// confirm button.
func (n *Notifier) ConfirmPrompt(ctx context.Context, order *domain.Order) {
	caption := "Order summary\n\n" + OrderCaption(order) +
		"\n\nIf everything looks right, press Confirm."
	keyboard := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "Confirm", CallbackData: fmt.Sprintf("%s:%d", ActionConfirm, order.ID)},
		}},
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	messageID, err := n.sender.SendPhoto(ctx, order.ChatID, order.ProofRef, caption, keyboard)
	if err != nil {
		n.deliveryFailed(ctx, "confirm_prompt", order, err)
		return
	}
	n.trackOrderMessage(ctx, order, messageID)
}

func (n *Notifier) sendToCustomer(ctx context.Context, kind string, order *domain.Order, text string, keyboard *telegram.InlineKeyboardMarkup) {
	if order.ChatID == 0 {
		n.logger.Warn("order has no bound chat, skipping notification",
			"order_id", order.ID, "kind", kind)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	messageID, err := n.sender.SendMessage(ctx, order.ChatID, text, keyboard)
	if err != nil {
		n.deliveryFailed(ctx, kind, order, err)
		return
	}
	n.trackOrderMessage(ctx, order, messageID)
}

func (n *Notifier) trackOrderMessage(ctx context.Context, order *domain.Order, messageID int64) {
	n.recorder.Record(order.ChatID, messageID)
	if n.orderLog != nil {
		n.orderLog.RecordChatMessage(ctx, order.ID, messageID)
	}
}

func (n *Notifier) deliveryFailed(ctx context.Context, kind string, order *domain.Order, err error) {
	if n.failures != nil {
		n.failures.Add(ctx, 1)
	}
	n.logger.Error("notification delivery failed",
		"kind", kind, "order_id", order.ID, "chat_id", order.ChatID, "error", err)
}
