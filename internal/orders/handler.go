package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bikastore/backend/internal/domain"
	"github.com/bikastore/backend/internal/handoff"
)

// Handler is the storefront-facing HTTP surface: web order creation, the
// bot-side claim, and the operator status endpoint.
type Handler struct {
	service *Service
	broker  *handoff.Broker
	logger  *slog.Logger
}

func NewHandler(service *Service, broker *handoff.Broker, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		broker:  broker,
		logger:  logger,
	}
}

type webOrderRequest struct {
	Game   domain.Game        `json:"game"`
	Cart   []domain.OrderItem `json:"cart"`
	MlbbID string             `json:"mlbbId"`
	SvID   string             `json:"svId"`
	PubgID string             `json:"pubgId"`
}

type webOrderResponse struct {
	OrderCode string `json:"orderCode"`
	StartCode string `json:"startCode"`
}

// HandleCreateWebOrder creates an order from the storefront cart and issues
// the one-time handoff token the customer takes into the chat.
func (h *Handler) HandleCreateWebOrder(w http.ResponseWriter, r *http.Request) {
	var req webOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ids := domain.GameIDs{MlbbID: req.MlbbID, MlbbServerID: req.SvID, PubgID: req.PubgID}
	order, err := h.service.Create(r.Context(), domain.OriginWeb, req.Game, req.Cart, ids)
	if err != nil {
		h.respondError(w, err)
		return
	}

	token, err := h.broker.Issue(handoff.CartPayload{
		OrderID: order.ID,
		Game:    order.Game,
		Items:   order.Items,
		GameIDs: order.GameIDs,
		Total:   order.Total,
	})
	if err != nil {
		h.logger.Error("failed to issue handoff token", "order_id", order.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, webOrderResponse{
		OrderCode: order.Code,
		StartCode: token,
	})
}

type claimRequest struct {
	StartCode    string `json:"startCode"`
	ChatIdentity int64  `json:"chatIdentity"`
	Handle       string `json:"handle"`
}

// HandleClaimWebOrder consumes a handoff token on behalf of a chat and binds
// the chat identity to the order. Exactly one claim per token succeeds.
func (h *Handler) HandleClaimWebOrder(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StartCode == "" || req.ChatIdentity == 0 {
		h.writeError(w, http.StatusBadRequest, "startCode and chatIdentity are required")
		return
	}

	payload, err := h.broker.Claim(req.StartCode)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if err := h.service.BindChatIdentity(r.Context(), payload.OrderID, req.ChatIdentity, req.Handle); err != nil {
		h.respondError(w, err)
		return
	}

	order, err := h.service.Get(r.Context(), payload.OrderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// HandleGet returns a single order.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type statusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

// HandleUpdateStatus lets the operator settle an order from the admin UI.
// Only the two terminal states are accepted.
func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status != domain.StatusCompleted && req.Status != domain.StatusRejected {
		h.writeError(w, http.StatusBadRequest, "status must be completed or rejected")
		return
	}

	order, err := h.service.OperatorDecide(r.Context(), id, req.Status == domain.StatusCompleted)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidState):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
