package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the order lifecycle. The HTTP and webhook layers map
// these onto status codes and chat replies; everything else wraps them.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state transition")
)

type Game string

const (
	GameMLBB Game = "MLBB"
	GamePUBG Game = "PUBG"
)

func (g Game) Valid() bool {
	return g == GameMLBB || g == GamePUBG
}

type OrderStatus string

const (
	StatusAwaitingProof        OrderStatus = "awaiting_proof"
	StatusAwaitingConfirmation OrderStatus = "awaiting_customer_confirmation"
	StatusPendingReview        OrderStatus = "pending_operator_review"
	StatusCompleted            OrderStatus = "completed"
	StatusRejected             OrderStatus = "rejected"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// transitions is the only place the forward edges of the state machine are
// written down. Handlers never derive reachability on their own.
var transitions = map[OrderStatus][]OrderStatus{
	StatusAwaitingProof:        {StatusAwaitingConfirmation},
	StatusAwaitingConfirmation: {StatusPendingReview},
	StatusPendingReview:        {StatusCompleted, StatusRejected},
}

// CanTransition reports whether from → to is a legal forward edge.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type OrderOrigin string

const (
	OriginWeb OrderOrigin = "web"
	OriginBot OrderOrigin = "bot"
)

type OrderItem struct {
	Label string `json:"label"`
	Price int64  `json:"price"`
	Qty   int    `json:"qty"`
}

// GameIDs carries the per-game account identifiers. MLBB needs an id and a
// server id, PUBG a single id.
type GameIDs struct {
	MlbbID       string `json:"mlbb_id,omitempty"`
	MlbbServerID string `json:"mlbb_server_id,omitempty"`
	PubgID       string `json:"pubg_id,omitempty"`
}

// Complete reports whether the identifiers required for the game are present.
func (ids GameIDs) Complete(game Game) bool {
	switch game {
	case GameMLBB:
		return ids.MlbbID != "" && ids.MlbbServerID != ""
	case GamePUBG:
		return ids.PubgID != ""
	}
	return false
}

type Order struct {
	ID      int64       `json:"id"`
	Code    string      `json:"code"`
	Origin  OrderOrigin `json:"origin"`
	ChatID  int64       `json:"chat_id,omitempty"`
	Handle  string      `json:"handle,omitempty"`
	Game    Game        `json:"game"`
	GameIDs GameIDs     `json:"game_ids"`
	Items   []OrderItem `json:"items"`
	Total   int64       `json:"total"`

	ProofRef string      `json:"proof_ref,omitempty"`
	Status   OrderStatus `json:"status"`

	// Outbound message ids sent to the customer's chat, kept for cleanup
	// once the order reaches a terminal state.
	ChatMessageIDs []int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const codePrefix = "BKS"

// OrderCode renders the human-readable code for an order id, e.g. BKS000001.
func OrderCode(id int64) string {
	return fmt.Sprintf("%s%06d", codePrefix, id)
}

// Total sums price × qty over the items. Computed once at creation and never
// recomputed afterwards.
func Total(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Qty)
	}
	return total
}

// ValidateNew checks the fields an order must carry before it is persisted.
// Game identifiers are not required here: a web order may arrive without them
// and have them collected later over chat.
func ValidateNew(game Game, items []OrderItem) error {
	if !game.Valid() {
		return fmt.Errorf("%w: invalid or missing game", ErrValidation)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	for _, item := range items {
		if item.Qty < 1 {
			return fmt.Errorf("%w: item %q has quantity %d", ErrValidation, item.Label, item.Qty)
		}
	}
	if Total(items) <= 0 {
		return fmt.Errorf("%w: cart total must be positive", ErrValidation)
	}
	return nil
}
