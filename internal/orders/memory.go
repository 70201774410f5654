package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bikastore/backend/internal/domain"
)

// MemoryRepository is an in-process Repository with the same transition
// semantics as the Postgres one. It backs unit tests and DB-less development
// runs; nothing it holds survives a restart.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*domain.Order
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextID: 1,
		orders: make(map[int64]*domain.Order),
		now:    time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order.ID = r.nextID
	r.nextID++
	order.Code = domain.OrderCode(order.ID)
	order.CreatedAt = r.now().UTC()
	order.UpdatedAt = order.CreatedAt

	stored := cloneOrder(order)
	r.orders[order.ID] = stored
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", domain.ErrNotFound, id)
	}
	return cloneOrder(order), nil
}

func (r *MemoryRepository) BindChat(_ context.Context, id, chatID int64, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %d", domain.ErrNotFound, id)
	}
	if order.ChatID != 0 && order.ChatID != chatID {
		return fmt.Errorf("%w: order %d is bound to another chat", domain.ErrConflict, id)
	}
	order.ChatID = chatID
	order.Handle = handle
	order.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryRepository) SetGameIDs(_ context.Context, id int64, ids domain.GameIDs) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %d", domain.ErrNotFound, id)
	}
	order.GameIDs = ids
	order.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryRepository) AttachProofIf(_ context.Context, id int64, proofRef string, from, to domain.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return false, nil
	}
	if order.Status != from {
		return false, nil
	}
	order.ProofRef = proofRef
	order.Status = to
	order.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *MemoryRepository) UpdateStatusIf(_ context.Context, id int64, from, to domain.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return false, nil
	}
	if order.Status != from {
		return false, nil
	}
	order.Status = to
	order.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *MemoryRepository) AppendChatMessage(_ context.Context, id, messageID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %d", domain.ErrNotFound, id)
	}
	order.ChatMessageIDs = append(order.ChatMessageIDs, messageID)
	order.UpdatedAt = r.now().UTC()
	return nil
}

func cloneOrder(order *domain.Order) *domain.Order {
	copied := *order
	copied.Items = append([]domain.OrderItem(nil), order.Items...)
	copied.ChatMessageIDs = append([]int64(nil), order.ChatMessageIDs...)
	return &copied
}
