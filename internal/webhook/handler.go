// Package webhook receives Telegram bot updates and drives the per-chat
// order dialogue. It is the only inbound surface of the bot: commands, free
// text, button callbacks and photo uploads all land here and are routed to
// the conversation tracker, the handoff broker and the order state machine.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/bikastore/backend/internal/conversation"
	"github.com/bikastore/backend/internal/domain"
	"github.com/bikastore/backend/internal/handoff"
	"github.com/bikastore/backend/internal/notify"
	"github.com/bikastore/backend/internal/orders"
	"github.com/bikastore/backend/internal/telegram"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Responder acknowledges callback queries so Telegram stops the button
// spinner.
type Responder interface {
	AnswerCallbackQuery(ctx context.Context, queryID, text string, showAlert bool) error
}

type Handler struct {
	service        *orders.Service
	broker         *handoff.Broker
	tracker        *conversation.Tracker
	notifier       *notify.Notifier
	responder      Responder
	operatorChatID int64
	secret         string
	logger         *slog.Logger
}

func NewHandler(
	service *orders.Service,
	broker *handoff.Broker,
	tracker *conversation.Tracker,
	notifier *notify.Notifier,
	responder Responder,
	operatorChatID int64,
	secret string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service:        service,
		broker:         broker,
		tracker:        tracker,
		notifier:       notifier,
		responder:      responder,
		operatorChatID: operatorChatID,
		secret:         secret,
		logger:         logger,
	}
}

// HandleUpdate is the webhook endpoint. Once the update is authenticated and
// decoded the response is always 200: Telegram retries non-2xx deliveries,
// and a replayed update must land on the idempotent paths of the state
// machine, not pile up in a retry queue.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.Header.Get(secretHeader) != h.secret {
		h.logger.Warn("webhook update with bad secret token rejected")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.Warn("failed to decode webhook update", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch ev := Decode(update).(type) {
	case CommandEvent:
		h.handleCommand(r.Context(), ev)
	case TextEvent:
		h.handleText(r.Context(), ev)
	case CallbackEvent:
		h.handleCallback(r.Context(), ev)
	case PhotoEvent:
		h.handlePhoto(r.Context(), ev)
	case nil:
		h.logger.Debug("ignoring unhandled update", "update_id", update.UpdateID)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCommand(ctx context.Context, ev CommandEvent) {
	if ev.Name != "start" {
		h.logger.Debug("ignoring unknown command", "command", ev.Name, "chat_id", ev.ChatID)
		return
	}

	if strings.HasPrefix(ev.Payload, handoff.Marker) {
		h.claimWebOrder(ctx, ev)
		return
	}

	h.tracker.Clear(ev.ChatID)
	h.notifier.Welcome(ctx, ev.ChatID)
}

// claimWebOrder consumes the deep-link token, binds the chat to the web
// order and seeds the dialogue so the customer can continue where the
// storefront left off.
func (h *Handler) claimWebOrder(ctx context.Context, ev CommandEvent) {
	payload, err := h.broker.Claim(ev.Payload)
	if err != nil {
		h.logger.Info("handoff claim failed", "chat_id", ev.ChatID, "error", err)
		h.notifier.Prompt(ctx, ev.ChatID,
			"This order link has expired or was already used. Please start a new order on the web store.")
		return
	}

	if err := h.service.BindChatIdentity(ctx, payload.OrderID, ev.ChatID, ev.Handle); err != nil {
		h.logger.Warn("failed to bind chat to claimed order",
			"order_id", payload.OrderID, "chat_id", ev.ChatID, "error", err)
		h.notifier.Prompt(ctx, ev.ChatID,
			"This order is already being handled in another chat.")
		return
	}

	order, err := h.service.Get(ctx, payload.OrderID)
	if err != nil {
		h.logger.Error("failed to load claimed order", "order_id", payload.OrderID, "error", err)
		return
	}

	state := h.tracker.Seed(ev.ChatID, conversation.CartSeed{
		OrderID: payload.OrderID,
		Game:    payload.Game,
		GameIDs: payload.GameIDs,
	})

	h.notifier.ClaimPreview(ctx, ev.ChatID, order)
	if state.Step == conversation.StepCollectingID {
		h.notifier.Prompt(ctx, ev.ChatID, idPrompt(state.Game))
	}
}

func (h *Handler) handleText(ctx context.Context, ev TextEvent) {
	// Whether or not the text advances the dialogue, the next prompt is
	// whatever the resulting step calls for; malformed input simply re-asks.
	state, _ := h.tracker.SubmitText(ev.ChatID, ev.Text)
	if state == nil {
		// Text from a chat with no dialogue in flight gets the greeting.
		h.notifier.Welcome(ctx, ev.ChatID)
		return
	}
	h.promptForStep(ctx, state)
}

func (h *Handler) handleCallback(ctx context.Context, ev CallbackEvent) {
	ack := ""
	alert := false

	switch ev.Action {
	case notify.ActionGame:
		game := domain.Game(ev.Arg)
		if !game.Valid() {
			h.logger.Warn("callback with unknown game ignored", "game", ev.Arg)
			break
		}
		state := h.tracker.StartGame(ev.ChatID, game)
		h.notifier.Prompt(ctx, ev.ChatID, idPrompt(state.Game))

	case notify.ActionPackage:
		priceField, label, ok := strings.Cut(ev.Arg, ":")
		price, err := strconv.ParseInt(priceField, 10, 64)
		if !ok || err != nil || price <= 0 {
			h.logger.Warn("malformed package callback ignored", "arg", ev.Arg)
			break
		}
		state, ok := h.tracker.SubmitPackage(ev.ChatID, label, price)
		if !ok {
			// Stale menu from an earlier dialogue; nothing to apply.
			break
		}
		h.notifier.PaymentRequest(ctx, ev.ChatID, state.Package, state.Price)

	case notify.ActionConfirm:
		orderID, err := strconv.ParseInt(ev.Arg, 10, 64)
		if err != nil {
			break
		}
		if _, err := h.service.CustomerConfirm(ctx, orderID); err != nil {
			h.logger.Info("customer confirm rejected", "order_id", orderID, "error", err)
			ack = "This order can no longer be confirmed."
			break
		}
		ack = "Order confirmed."

	case notify.ActionApprove, notify.ActionReject:
		if ev.ChatID != h.operatorChatID {
			h.logger.Warn("operator callback from non-operator chat rejected",
				"chat_id", ev.ChatID, "action", ev.Action)
			ack = "Not allowed."
			alert = true
			break
		}
		orderID, err := strconv.ParseInt(ev.Arg, 10, 64)
		if err != nil {
			break
		}
		approve := ev.Action == notify.ActionApprove
		if _, err := h.service.OperatorDecide(ctx, orderID, approve); err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidState):
				ack = "Order was already settled with the opposite verdict."
				alert = true
			case errors.Is(err, domain.ErrNotFound):
				ack = "Order not found."
				alert = true
			}
			h.logger.Info("operator decision rejected", "order_id", orderID, "error", err)
			break
		}
		if approve {
			ack = fmt.Sprintf("Order %d completed.", orderID)
		} else {
			ack = fmt.Sprintf("Order %d rejected.", orderID)
		}

	default:
		h.logger.Debug("ignoring unknown callback action", "action", ev.Action)
	}

	if err := h.responder.AnswerCallbackQuery(ctx, ev.QueryID, ack, alert); err != nil {
		h.logger.Warn("failed to answer callback query", "error", err)
	}
}

// handlePhoto treats any photo from a chat at the upload step as the payment
// slip. Chats not at that step drop the photo silently. The dialogue state is
// cleared only once the slip is recorded, or when the order refuses it for
// good; a transient failure keeps the state so the customer's retry photo
// still lands.
func (h *Handler) handlePhoto(ctx context.Context, ev PhotoEvent) {
	state := h.tracker.PeekForProof(ev.ChatID)
	if state == nil {
		h.logger.Debug("photo from chat not awaiting proof dropped", "chat_id", ev.ChatID)
		return
	}

	order, err := h.attachToOrder(ctx, ev, state)
	if err != nil {
		h.logger.Warn("failed to record payment slip",
			"chat_id", ev.ChatID, "order_id", state.OrderID, "error", err)
		if errors.Is(err, domain.ErrInvalidState) {
			h.tracker.Clear(ev.ChatID)
			return
		}
		h.notifier.Prompt(ctx, ev.ChatID,
			"Something went wrong recording your slip. Please send it again.")
		return
	}

	h.tracker.Clear(ev.ChatID)
	h.notifier.ConfirmPrompt(ctx, order)
}

func (h *Handler) attachToOrder(ctx context.Context, ev PhotoEvent, state *conversation.State) (*domain.Order, error) {
	if state.OrderID != 0 {
		if err := h.service.SetGameIDs(ctx, state.OrderID, state.GameIDs); err != nil {
			return nil, err
		}
		return h.service.AttachProof(ctx, state.OrderID, ev.FileID)
	}

	items := []domain.OrderItem{{Label: state.Package, Price: state.Price, Qty: 1}}
	order, err := h.service.Create(ctx, domain.OriginBot, state.Game, items, state.GameIDs)
	if err != nil {
		return nil, err
	}
	if err := h.service.BindChatIdentity(ctx, order.ID, ev.ChatID, ev.Handle); err != nil {
		return nil, err
	}
	return h.service.AttachProof(ctx, order.ID, ev.FileID)
}

func (h *Handler) promptForStep(ctx context.Context, state *conversation.State) {
	switch state.Step {
	case conversation.StepCollectingID:
		h.notifier.Prompt(ctx, state.ChatID, idPrompt(state.Game))
	case conversation.StepCollectingServerID:
		h.notifier.Prompt(ctx, state.ChatID, "Now send your MLBB server id.")
	case conversation.StepCollectingPackage:
		h.notifier.PackageMenu(ctx, state.ChatID, Packages(state.Game))
	case conversation.StepAwaitingProofUpload:
		if state.Package == "" {
			// Claimed web orders carry a multi-item cart, not one package;
			// the claim preview already showed the total.
			h.notifier.Prompt(ctx, state.ChatID, "Please send the payment slip photo to finish your order.")
			return
		}
		h.notifier.PaymentRequest(ctx, state.ChatID, state.Package, state.Price)
	}
}

func idPrompt(game domain.Game) string {
	if game == domain.GameMLBB {
		return "Send your MLBB user id."
	}
	return "Send your PUBG id."
}
