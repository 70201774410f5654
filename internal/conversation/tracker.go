// Package conversation tracks per-chat progress through the multi-step order
// dialogue. State is process-local and ephemeral: it never survives a
// restart, and superseding a chat's state discards the old one outright.
package conversation

import (
	"strconv"
	"strings"
	"sync"

	"github.com/bikastore/backend/internal/domain"
)

// Step is a state of the per-chat collection machine.
type Step string

const (
	// StepCollectingID indicates the bot is waiting for the game account id.
	StepCollectingID Step = "collecting_id"
	// StepCollectingServerID indicates the bot is waiting for the MLBB
	// server id. PUBG skips this step.
	StepCollectingServerID Step = "collecting_server_id"
	// StepCollectingPackage indicates the bot is waiting for a package pick.
	StepCollectingPackage Step = "collecting_package"
	// StepAwaitingProofUpload indicates everything but the payment slip is
	// collected.
	StepAwaitingProofUpload Step = "awaiting_proof_upload"
)

// State is the accumulated input for one chat.
type State struct {
	ChatID  int64
	Step    Step
	Game    domain.Game
	GameIDs domain.GameIDs
	Package string
	Price   int64
	// OrderID is non-zero when the chat is attached to an order that
	// already exists (a claimed web handoff).
	OrderID int64
}

// Tracker owns the per-chat states. One customer drives one chat, so there is
// no cross-chat coordination; the mutex only guards the map itself.
type Tracker struct {
	mu     sync.Mutex
	states map[int64]*State
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[int64]*State)}
}

// StartGame resets any prior state for the chat and begins collecting the
// account id for the chosen game.
func (t *Tracker) StartGame(chatID int64, game domain.Game) *State {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &State{ChatID: chatID, Step: StepCollectingID, Game: game}
	t.states[chatID] = s

	copied := *s
	return &copied
}

// Seed installs state for a claimed web order. When the claimed payload
// already carries complete game ids the chat goes straight to the proof
// upload step; otherwise it starts at id collection.
func (t *Tracker) Seed(chatID int64, payload CartSeed) *State {
	step := StepCollectingID
	if payload.GameIDs.Complete(payload.Game) {
		step = StepAwaitingProofUpload
	}

	s := &State{
		ChatID:  chatID,
		Step:    step,
		Game:    payload.Game,
		GameIDs: payload.GameIDs,
		Package: payload.Package,
		Price:   payload.Price,
		OrderID: payload.OrderID,
	}

	t.mu.Lock()
	t.states[chatID] = s
	t.mu.Unlock()

	copied := *s
	return &copied
}

// CartSeed is the subset of a claimed handoff payload the tracker cares
// about.
type CartSeed struct {
	OrderID int64
	Game    domain.Game
	GameIDs domain.GameIDs
	Package string
	Price   int64
}

// Get returns a copy of the chat's state, or nil when the chat has none.
func (t *Tracker) Get(chatID int64) *State {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[chatID]
	if !ok {
		return nil
	}
	copied := *s
	return &copied
}

// SubmitText feeds free-form customer text into the machine. The returned
// bool reports whether the input advanced the state; malformed input leaves
// the state untouched so the caller can re-prompt. Malformed customer input
// is expected, not exceptional, so there is no error here.
func (t *Tracker) SubmitText(chatID int64, text string) (*State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[chatID]
	if !ok {
		return nil, false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		copied := *s
		return &copied, false
	}

	// A chat attached to an existing order already carries its priced cart,
	// so id collection ends at the proof upload step and the inline
	// "id package price" shorthand does not apply.
	claimed := s.OrderID != 0

	advanced := false
	switch s.Step {
	case StepCollectingID:
		switch s.Game {
		case domain.GameMLBB:
			// A single line may carry the whole remainder:
			// "id serverId package price".
			if parsed, ok := parseInline(text, true); !claimed && ok {
				s.GameIDs.MlbbID = parsed.id
				s.GameIDs.MlbbServerID = parsed.serverID
				s.Package = parsed.pkg
				s.Price = parsed.price
				s.Step = StepAwaitingProofUpload
			} else {
				s.GameIDs.MlbbID = text
				s.Step = StepCollectingServerID
			}
		case domain.GamePUBG:
			// "id package price" shorthand, without a server id.
			if parsed, ok := parseInline(text, false); !claimed && ok {
				s.GameIDs.PubgID = parsed.id
				s.Package = parsed.pkg
				s.Price = parsed.price
				s.Step = StepAwaitingProofUpload
			} else {
				s.GameIDs.PubgID = text
				if claimed {
					s.Step = StepAwaitingProofUpload
				} else {
					s.Step = StepCollectingPackage
				}
			}
		}
		advanced = true
	case StepCollectingServerID:
		if strings.ContainsAny(text, " \t") {
			break // one field expected here
		}
		s.GameIDs.MlbbServerID = text
		if claimed {
			s.Step = StepAwaitingProofUpload
		} else {
			s.Step = StepCollectingPackage
		}
		advanced = true
	}

	copied := *s
	return &copied, advanced
}

// SubmitPackage records the selected package and moves to proof upload.
func (t *Tracker) SubmitPackage(chatID int64, pkg string, price int64) (*State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[chatID]
	if !ok || s.Step != StepCollectingPackage {
		return nil, false
	}
	s.Package = pkg
	s.Price = price
	s.Step = StepAwaitingProofUpload

	copied := *s
	return &copied, true
}

// PeekForProof returns a copy of the chat's state if it is ready for a
// payment slip. A photo arriving for a chat with no state, or one not yet at
// the upload step, returns nil: unrelated photos are dropped silently by
// policy. The state stays in place so a failed attach can be retried; the
// caller clears it once the slip is recorded.
func (t *Tracker) PeekForProof(chatID int64) *State {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[chatID]
	if !ok || s.Step != StepAwaitingProofUpload {
		return nil
	}
	copied := *s
	return &copied
}

// Clear drops the chat's state unconditionally.
func (t *Tracker) Clear(chatID int64) {
	t.mu.Lock()
	delete(t.states, chatID)
	t.mu.Unlock()
}

type inlineFields struct {
	id       string
	serverID string
	pkg      string
	price    int64
}

// parseInline handles the "id [serverId] package price" shorthand veteran
// customers type as one message. withServer selects the four-field MLBB form
// over the three-field PUBG one.
func parseInline(text string, withServer bool) (inlineFields, bool) {
	want := 3
	if withServer {
		want = 4
	}
	fields := strings.Fields(text)
	if len(fields) != want {
		return inlineFields{}, false
	}
	price, err := strconv.ParseInt(fields[want-1], 10, 64)
	if err != nil || price <= 0 {
		return inlineFields{}, false
	}
	parsed := inlineFields{id: fields[0], pkg: fields[want-2], price: price}
	if withServer {
		parsed.serverID = fields[1]
	}
	return parsed, true
}
