package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bikastore/backend/internal/domain"
)

// keepAfterPurge is how many customer-chat messages survive cleanup once an
// order reaches a terminal state: just the decision message.
const keepAfterPurge = 1

// TransitionNotifier receives the fan-out calls made after a committed
// transition. Implementations must never block longer than their own
// timeouts; their failures stay on their side of the boundary.
type TransitionNotifier interface {
	OperatorReview(ctx context.Context, order *domain.Order)
	CustomerQueued(ctx context.Context, order *domain.Order)
	CustomerDecision(ctx context.Context, order *domain.Order, approved bool)
}

// Purger removes tracked chat messages once an order is settled.
type Purger interface {
	Purge(ctx context.Context, chatID int64, keepLast int)
}

// EventPublisher emits order status events. A nil publisher disables
// eventing.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Service is the order state machine. All writes go through the repository's
// conditional updates, so a retried webhook can never race a transition into
// an inconsistent status: the store applies each edge at most once and the
// service translates a lost race into either an idempotent no-op or
// domain.ErrInvalidState.
type Service struct {
	repo      Repository
	notifier  TransitionNotifier
	purger    Purger
	publisher EventPublisher
	logger    *slog.Logger
}

func NewService(repo Repository, notifier TransitionNotifier, purger Purger, publisher EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		notifier:  notifier,
		purger:    purger,
		publisher: publisher,
		logger:    logger,
	}
}

// Create validates and persists a new order in awaiting_proof.
func (s *Service) Create(ctx context.Context, origin domain.OrderOrigin, game domain.Game, items []domain.OrderItem, ids domain.GameIDs) (*domain.Order, error) {
	if err := domain.ValidateNew(game, items); err != nil {
		return nil, err
	}

	order := &domain.Order{
		Origin:  origin,
		Game:    game,
		GameIDs: ids,
		Items:   items,
		Total:   domain.Total(items),
		Status:  domain.StatusAwaitingProof,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order created",
		"order_id", order.ID, "code", order.Code, "origin", origin, "game", game, "total", order.Total)
	s.publishTransition(ctx, order, "", order.Status)
	return order, nil
}

// Get returns the order by id.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Order, error) {
	return s.repo.GetByID(ctx, id)
}

// BindChatIdentity attaches the claiming chat to the order. Binding the same
// chat twice is a no-op; a different chat is a conflict.
func (s *Service) BindChatIdentity(ctx context.Context, id, chatID int64, handle string) error {
	if err := s.repo.BindChat(ctx, id, chatID, handle); err != nil {
		return err
	}
	s.logger.Info("chat identity bound", "order_id", id, "chat_id", chatID)
	return nil
}

// SetGameIDs stores identifiers collected over chat for an existing order.
func (s *Service) SetGameIDs(ctx context.Context, id int64, ids domain.GameIDs) error {
	return s.repo.SetGameIDs(ctx, id, ids)
}

// AttachProof records the payment slip and moves awaiting_proof →
// awaiting_customer_confirmation. Any other starting state is
// domain.ErrInvalidState; a duplicate photo must not overwrite the slip
// under review.
func (s *Service) AttachProof(ctx context.Context, id int64, proofRef string) (*domain.Order, error) {
	applied, err := s.repo.AttachProofIf(ctx, id, proofRef,
		domain.StatusAwaitingProof, domain.StatusAwaitingConfirmation)
	if err != nil {
		return nil, fmt.Errorf("attach proof: %w", err)
	}
	if !applied {
		order, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot attach proof to order %d in %s",
			domain.ErrInvalidState, id, order.Status)
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("proof attached", "order_id", id, "chat_id", order.ChatID)
	s.publishTransition(ctx, order, domain.StatusAwaitingProof, order.Status)
	return order, nil
}

// CustomerConfirm moves awaiting_customer_confirmation →
// pending_operator_review and alerts the operator. A retried button press
// that finds the order already pending is treated as success without a
// second notification.
func (s *Service) CustomerConfirm(ctx context.Context, id int64) (*domain.Order, error) {
	applied, err := s.repo.UpdateStatusIf(ctx, id,
		domain.StatusAwaitingConfirmation, domain.StatusPendingReview)
	if err != nil {
		return nil, fmt.Errorf("customer confirm: %w", err)
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !applied {
		if order.Status == domain.StatusPendingReview {
			s.logger.Info("duplicate customer confirm ignored", "order_id", id)
			return order, nil
		}
		return nil, fmt.Errorf("%w: cannot confirm order %d in %s",
			domain.ErrInvalidState, id, order.Status)
	}

	s.logger.Info("order pending operator review", "order_id", id)
	s.publishTransition(ctx, order, domain.StatusAwaitingConfirmation, order.Status)

	// Persisted first; notifications after, outside any lock.
	s.notifier.OperatorReview(ctx, order)
	s.notifier.CustomerQueued(ctx, order)
	return order, nil
}

// OperatorDecide settles the order from pending_operator_review into a
// terminal state. A retried decision with the same verdict is a no-op; any
// other starting state (including the opposite terminal) is
// domain.ErrInvalidState.
func (s *Service) OperatorDecide(ctx context.Context, id int64, approve bool) (*domain.Order, error) {
	to := domain.StatusRejected
	if approve {
		to = domain.StatusCompleted
	}

	applied, err := s.repo.UpdateStatusIf(ctx, id, domain.StatusPendingReview, to)
	if err != nil {
		return nil, fmt.Errorf("operator decide: %w", err)
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !applied {
		if order.Status == to {
			s.logger.Info("duplicate operator decision ignored", "order_id", id, "status", to)
			return order, nil
		}
		return nil, fmt.Errorf("%w: cannot decide order %d in %s",
			domain.ErrInvalidState, id, order.Status)
	}

	s.logger.Info("order settled", "order_id", id, "status", to)
	s.publishTransition(ctx, order, domain.StatusPendingReview, to)

	s.notifier.CustomerDecision(ctx, order, approve)
	if order.ChatID != 0 {
		s.purger.Purge(ctx, order.ChatID, keepAfterPurge)
	}
	return order, nil
}

// ChatMessageLog records outbound message ids on the order row. It wraps
// the repository directly so the notifier can use it without holding the
// whole service.
type ChatMessageLog struct {
	Repo   Repository
	Logger *slog.Logger
}

func (l ChatMessageLog) RecordChatMessage(ctx context.Context, orderID, messageID int64) {
	if err := l.Repo.AppendChatMessage(ctx, orderID, messageID); err != nil {
		l.Logger.Warn("failed to record chat message", "order_id", orderID, "error", err)
	}
}

func (s *Service) publishTransition(ctx context.Context, order *domain.Order, from, to domain.OrderStatus) {
	if s.publisher == nil {
		return
	}
	event := domain.OrderStatusEvent{
		EventID:   uuid.New().String(),
		OrderID:   order.ID,
		OrderCode: order.Code,
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, order.Code, event); err != nil {
		s.logger.Error("failed to publish order status event",
			"order_id", order.ID, "to", to, "error", err)
	}
}
