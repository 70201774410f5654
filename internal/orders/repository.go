package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/bikastore/backend/internal/domain"
)

// Repository is the persistence surface the order state machine runs on.
// Every conditional mutation is atomic at the store: implementations must
// guarantee that the status check and the write are one operation.
type Repository interface {
	// Create persists a new order and assigns its id and code from the
	// store's sequence. The passed order is updated in place.
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	// BindChat attaches a chat identity to an order exactly once. Binding
	// the same identity again is a no-op; a different identity is
	// domain.ErrConflict.
	BindChat(ctx context.Context, id, chatID int64, handle string) error
	// SetGameIDs fills in game identifiers collected over chat.
	SetGameIDs(ctx context.Context, id int64, ids domain.GameIDs) error
	// AttachProofIf records the proof reference and moves the order from
	// `from` to `to` if and only if it currently sits at `from`. It reports
	// whether the transition was applied.
	AttachProofIf(ctx context.Context, id int64, proofRef string, from, to domain.OrderStatus) (bool, error)
	// UpdateStatusIf moves the order from `from` to `to` if and only if it
	// currently sits at `from`, reporting whether it did.
	UpdateStatusIf(ctx context.Context, id int64, from, to domain.OrderStatus) (bool, error)
	// AppendChatMessage logs an outbound message id on the order record.
	AppendChatMessage(ctx context.Context, id, messageID int64) error
}

// PostgresRepository implements Repository on Postgres. Order ids come from
// the table's BIGSERIAL sequence, so concurrent creations can never observe
// the same id.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, order *domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (origin, game, mlbb_id, mlbb_server_id, pubg_id, items, total, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, order.Origin, order.Game,
		order.GameIDs.MlbbID, order.GameIDs.MlbbServerID, order.GameIDs.PubgID,
		items, order.Total, order.Status,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return err
	}

	order.Code = domain.OrderCode(order.ID)
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET code = $1 WHERE id = $2
	`, order.Code, order.ID); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	order := &domain.Order{}
	var chatID sql.NullInt64
	var items []byte
	var messageIDs pq.Int64Array

	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, origin, chat_id, handle, game,
		       mlbb_id, mlbb_server_id, pubg_id,
		       items, total, proof_ref, status, chat_message_ids,
		       created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.Code, &order.Origin, &chatID, &order.Handle, &order.Game,
		&order.GameIDs.MlbbID, &order.GameIDs.MlbbServerID, &order.GameIDs.PubgID,
		&items, &order.Total, &order.ProofRef, &order.Status, &messageIDs,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: order %d", domain.ErrNotFound, id)
		}
		return nil, err
	}

	if chatID.Valid {
		order.ChatID = chatID.Int64
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	order.ChatMessageIDs = messageIDs
	return order, nil
}

func (r *PostgresRepository) BindChat(ctx context.Context, id, chatID int64, handle string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET chat_id = $2, handle = $3, updated_at = NOW()
		WHERE id = $1 AND (chat_id IS NULL OR chat_id = $2)
	`, id, chatID, handle)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a missing order from one bound elsewhere.
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: order %d is bound to another chat", domain.ErrConflict, id)
}

func (r *PostgresRepository) SetGameIDs(ctx context.Context, id int64, ids domain.GameIDs) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET mlbb_id = $2, mlbb_server_id = $3, pubg_id = $4, updated_at = NOW()
		WHERE id = $1
	`, id, ids.MlbbID, ids.MlbbServerID, ids.PubgID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: order %d", domain.ErrNotFound, id)
	}
	return nil
}

func (r *PostgresRepository) AttachProofIf(ctx context.Context, id int64, proofRef string, from, to domain.OrderStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET proof_ref = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, proofRef, to, from)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresRepository) UpdateStatusIf(ctx context.Context, id int64, from, to domain.OrderStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, to, from)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresRepository) AppendChatMessage(ctx context.Context, id, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET chat_message_ids = array_append(chat_message_ids, $2), updated_at = NOW()
		WHERE id = $1
	`, id, messageID)
	return err
}
