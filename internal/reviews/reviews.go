// Package reviews stores the public customer reviews shown on the
// storefront landing page.
package reviews

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bikastore/backend/internal/domain"
)

// Review is one storefront testimonial.
type Review struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the submitted fields before persistence.
func (r *Review) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrValidation)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: text is required", domain.ErrValidation)
	}
	return nil
}

type Repository interface {
	Create(ctx context.Context, review *Review) error
	Latest(ctx context.Context, limit int) ([]Review, error)
}

// PostgresRepository stores reviews in the reviews table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, review *Review) error {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO reviews (name, rating, text)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		review.Name, review.Rating, review.Text,
	)
	if err := row.Scan(&review.ID, &review.CreatedAt); err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Latest(ctx context.Context, limit int) ([]Review, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, rating, text, created_at
		FROM reviews
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	reviews := []Review{}
	for rows.Next() {
		var review Review
		if err := rows.Scan(&review.ID, &review.Name, &review.Rating, &review.Text, &review.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, review)
	}
	return reviews, rows.Err()
}

// MemoryRepository backs the no-database mode and the tests.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	reviews []Review
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, review *Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	review.ID = r.nextID
	review.CreatedAt = time.Now().UTC()
	r.reviews = append(r.reviews, *review)
	return nil
}

func (r *MemoryRepository) Latest(_ context.Context, limit int) ([]Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Review, len(r.reviews))
	copy(out, r.reviews)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
