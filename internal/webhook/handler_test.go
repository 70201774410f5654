package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bikastore/backend/internal/conversation"
	"github.com/bikastore/backend/internal/domain"
	"github.com/bikastore/backend/internal/handoff"
	"github.com/bikastore/backend/internal/notify"
	"github.com/bikastore/backend/internal/orders"
	"github.com/bikastore/backend/internal/retention"
	"github.com/bikastore/backend/internal/telegram"
)

const (
	testSecret     = "hook-secret"
	operatorChatID = int64(9000)
)

type outbound struct {
	chatID   int64
	text     string
	fileID   string
	keyboard *telegram.InlineKeyboardMarkup
}

type ack struct {
	queryID string
	text    string
	alert   bool
}

// fakeTelegram stands in for the bot API: it is the notifier's sender, the
// retention tracker's deleter and the dispatcher's callback responder.
type fakeTelegram struct {
	mu      sync.Mutex
	nextID  int64
	sent    []outbound
	deleted []int64
	acks    []ack
}

func (f *fakeTelegram) SendMessage(_ context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, outbound{chatID: chatID, text: text, keyboard: keyboard})
	return f.nextID, nil
}

func (f *fakeTelegram) SendPhoto(_ context.Context, chatID int64, fileID, caption string, keyboard *telegram.InlineKeyboardMarkup) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, outbound{chatID: chatID, text: caption, fileID: fileID, keyboard: keyboard})
	return f.nextID, nil
}

func (f *fakeTelegram) DeleteMessage(_ context.Context, _, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTelegram) AnswerCallbackQuery(_ context.Context, queryID, text string, showAlert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ack{queryID: queryID, text: text, alert: showAlert})
	return nil
}

func (f *fakeTelegram) lastTo(t *testing.T, chatID int64) outbound {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].chatID == chatID {
			return f.sent[i]
		}
	}
	t.Fatalf("no message sent to chat %d", chatID)
	return outbound{}
}

func (f *fakeTelegram) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type harness struct {
	handler *Handler
	api     *fakeTelegram
	repo    orders.Repository
	service *orders.Service
	broker  *handoff.Broker
	tracker *conversation.Tracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, orders.NewMemoryRepository())
}

func newHarnessWith(t *testing.T, repo orders.Repository) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	api := &fakeTelegram{}
	ret := retention.NewTracker(api, logger)
	notifier := notify.NewNotifier(api, ret,
		orders.ChatMessageLog{Repo: repo, Logger: logger},
		operatorChatID, "https://store.example", logger)
	service := orders.NewService(repo, notifier, ret, nil, logger)
	broker := handoff.NewBroker(30*time.Minute, nil, logger)
	tracker := conversation.NewTracker()

	return &harness{
		handler: NewHandler(service, broker, tracker, notifier, api, operatorChatID, testSecret, logger),
		api:     api,
		repo:    repo,
		service: service,
		broker:  broker,
		tracker: tracker,
	}
}

func (h *harness) post(t *testing.T, update telegram.Update) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", bytes.NewReader(body))
	req.Header.Set(secretHeader, testSecret)
	rr := httptest.NewRecorder()
	h.handler.HandleUpdate(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("webhook returned %d, want 200", rr.Code)
	}
	return rr
}

func textUpdate(chatID int64, text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		Chat: telegram.Chat{ID: chatID},
		From: &telegram.User{ID: chatID, Username: "customer"},
		Text: text,
	}}
}

func callbackUpdate(queryID string, chatID int64, data string) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      queryID,
		From:    telegram.User{ID: chatID, Username: "customer"},
		Message: &telegram.Message{Chat: telegram.Chat{ID: chatID}},
		Data:    data,
	}}
}

func photoUpdate(chatID int64, fileID string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		Chat:  telegram.Chat{ID: chatID},
		From:  &telegram.User{ID: chatID, Username: "customer"},
		Photo: []telegram.PhotoSize{{FileID: "thumb"}, {FileID: fileID}},
	}}
}

func TestHandleUpdateRejectsBadSecret(t *testing.T) {
	h := newHarness(t)

	body, _ := json.Marshal(textUpdate(1, "/start"))
	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", bytes.NewReader(body))
	req.Header.Set(secretHeader, "wrong")
	rr := httptest.NewRecorder()
	h.handler.HandleUpdate(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rr.Code)
	}
	if h.api.sentCount() != 0 {
		t.Fatalf("unauthenticated update produced %d outbound messages", h.api.sentCount())
	}
}

func TestBotOrderFullFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chatID := int64(100)

	h.post(t, textUpdate(chatID, "/start"))
	welcome := h.api.lastTo(t, chatID)
	if welcome.keyboard == nil || !strings.Contains(welcome.text, "Welcome") {
		t.Fatalf("expected welcome with keyboard, got %q", welcome.text)
	}

	h.post(t, callbackUpdate("q1", chatID, "game:MLBB"))
	if got := h.api.lastTo(t, chatID).text; !strings.Contains(got, "MLBB user id") {
		t.Fatalf("expected id prompt, got %q", got)
	}

	h.post(t, textUpdate(chatID, "123456789"))
	if got := h.api.lastTo(t, chatID).text; !strings.Contains(got, "server id") {
		t.Fatalf("expected server id prompt, got %q", got)
	}

	h.post(t, textUpdate(chatID, "2345"))
	menu := h.api.lastTo(t, chatID)
	if menu.keyboard == nil || len(menu.keyboard.InlineKeyboard) == 0 {
		t.Fatalf("expected package menu keyboard")
	}

	h.post(t, callbackUpdate("q2", chatID, "package:9800:172 Diamonds"))
	if got := h.api.lastTo(t, chatID).text; !strings.Contains(got, "172 Diamonds - 9800 Ks") {
		t.Fatalf("expected payment request, got %q", got)
	}

	h.post(t, photoUpdate(chatID, "slip-file-id"))

	order, err := h.repo.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("expected order created: %v", err)
	}
	if order.Status != domain.StatusAwaitingConfirmation {
		t.Fatalf("order status = %s, want %s", order.Status, domain.StatusAwaitingConfirmation)
	}
	if order.ProofRef != "slip-file-id" {
		t.Fatalf("proof ref = %q, want largest photo size", order.ProofRef)
	}
	if order.Origin != domain.OriginBot || order.ChatID != chatID {
		t.Fatalf("order origin/chat = %s/%d", order.Origin, order.ChatID)
	}
	if order.GameIDs.MlbbID != "123456789" || order.GameIDs.MlbbServerID != "2345" {
		t.Fatalf("game ids not carried over: %+v", order.GameIDs)
	}
	confirm := h.api.lastTo(t, chatID)
	if confirm.fileID != "slip-file-id" || confirm.keyboard == nil {
		t.Fatalf("expected slip echo with confirm button")
	}

	h.post(t, callbackUpdate("q3", chatID, fmt.Sprintf("confirm:%d", order.ID)))
	order, _ = h.repo.GetByID(ctx, order.ID)
	if order.Status != domain.StatusPendingReview {
		t.Fatalf("order status = %s, want %s", order.Status, domain.StatusPendingReview)
	}
	review := h.api.lastTo(t, operatorChatID)
	if review.fileID != "slip-file-id" || review.keyboard == nil {
		t.Fatalf("expected operator review message with slip and controls")
	}

	h.post(t, callbackUpdate("q4", operatorChatID, fmt.Sprintf("approve:%d", order.ID)))
	order, _ = h.repo.GetByID(ctx, order.ID)
	if order.Status != domain.StatusCompleted {
		t.Fatalf("order status = %s, want %s", order.Status, domain.StatusCompleted)
	}
	if got := h.api.lastTo(t, chatID).text; !strings.Contains(got, "completed") {
		t.Fatalf("expected completion notice, got %q", got)
	}

	h.api.mu.Lock()
	deleted := len(h.api.deleted)
	h.api.mu.Unlock()
	if deleted == 0 {
		t.Fatal("expected chat cleanup after settlement")
	}
}

func TestInlineShorthandSkipsToPayment(t *testing.T) {
	h := newHarness(t)
	chatID := int64(200)

	h.post(t, callbackUpdate("q1", chatID, "game:MLBB"))
	h.post(t, textUpdate(chatID, "111222 3344 WeeklyPass 6500"))

	if got := h.api.lastTo(t, chatID).text; !strings.Contains(got, "WeeklyPass - 6500 Ks") {
		t.Fatalf("expected payment request after inline shorthand, got %q", got)
	}

	state := h.tracker.Get(chatID)
	if state == nil || state.Step != conversation.StepAwaitingProofUpload {
		t.Fatalf("state = %+v, want awaiting proof upload", state)
	}
}

func TestWebOrderClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.service.Create(ctx, domain.OriginWeb, domain.GameMLBB,
		[]domain.OrderItem{{Label: "514 Diamonds", Price: 28500, Qty: 1}},
		domain.GameIDs{MlbbID: "42", MlbbServerID: "7"})
	if err != nil {
		t.Fatalf("create web order: %v", err)
	}
	token, err := h.broker.Issue(handoff.CartPayload{
		OrderID: order.ID,
		Game:    order.Game,
		GameIDs: order.GameIDs,
		Items:   order.Items,
		Total:   order.Total,
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	chatID := int64(300)
	h.post(t, textUpdate(chatID, "/start "+token))

	bound, _ := h.repo.GetByID(ctx, order.ID)
	if bound.ChatID != chatID {
		t.Fatalf("order chat = %d, want %d", bound.ChatID, chatID)
	}
	preview := h.api.lastTo(t, chatID)
	if !strings.Contains(preview.text, "514 Diamonds") || !strings.Contains(preview.text, "28500 Ks") {
		t.Fatalf("claim preview missing cart contents: %q", preview.text)
	}

	state := h.tracker.Get(chatID)
	if state == nil || state.Step != conversation.StepAwaitingProofUpload || state.OrderID != order.ID {
		t.Fatalf("seeded state = %+v", state)
	}

	// The slip lands on the existing order instead of creating a new one.
	h.post(t, photoUpdate(chatID, "web-slip"))
	bound, _ = h.repo.GetByID(ctx, order.ID)
	if bound.Status != domain.StatusAwaitingConfirmation || bound.ProofRef != "web-slip" {
		t.Fatalf("after slip: status=%s proof=%q", bound.Status, bound.ProofRef)
	}
	if _, err := h.repo.GetByID(ctx, order.ID+1); err == nil {
		t.Fatal("slip created a second order")
	}
}

func TestWebOrderClaimIsOneShot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, _ := h.service.Create(ctx, domain.OriginWeb, domain.GamePUBG,
		[]domain.OrderItem{{Label: "325 UC", Price: 23500, Qty: 1}},
		domain.GameIDs{PubgID: "777"})
	token, _ := h.broker.Issue(handoff.CartPayload{OrderID: order.ID, Game: order.Game, GameIDs: order.GameIDs})

	h.post(t, textUpdate(300, "/start "+token))
	h.post(t, textUpdate(400, "/start "+token))

	if got := h.api.lastTo(t, 400).text; !strings.Contains(got, "expired") {
		t.Fatalf("second claim got %q, want expired notice", got)
	}
	bound, _ := h.repo.GetByID(ctx, order.ID)
	if bound.ChatID != 300 {
		t.Fatalf("order chat = %d, want first claimer", bound.ChatID)
	}
}

func TestOperatorCallbackFromWrongChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chatID := int64(500)

	h.post(t, callbackUpdate("q1", chatID, "game:PUBG"))
	h.post(t, textUpdate(chatID, "8888 325UC 23500"))
	h.post(t, photoUpdate(chatID, "slip"))
	order, _ := h.repo.GetByID(ctx, 1)
	h.post(t, callbackUpdate("q2", chatID, fmt.Sprintf("confirm:%d", order.ID)))

	h.post(t, callbackUpdate("q3", chatID, fmt.Sprintf("approve:%d", order.ID)))

	order, _ = h.repo.GetByID(ctx, order.ID)
	if order.Status != domain.StatusPendingReview {
		t.Fatalf("non-operator approval changed status to %s", order.Status)
	}
	h.api.mu.Lock()
	last := h.api.acks[len(h.api.acks)-1]
	h.api.mu.Unlock()
	if last.queryID != "q3" || !last.alert {
		t.Fatalf("expected alert ack for rejected operator action, got %+v", last)
	}
}

func TestDuplicateOperatorDecisionIsQuiet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chatID := int64(600)

	h.post(t, callbackUpdate("q1", chatID, "game:PUBG"))
	h.post(t, textUpdate(chatID, "8888 660UC 46500"))
	h.post(t, photoUpdate(chatID, "slip"))
	order, _ := h.repo.GetByID(ctx, 1)
	h.post(t, callbackUpdate("q2", chatID, fmt.Sprintf("confirm:%d", order.ID)))

	h.post(t, callbackUpdate("q3", operatorChatID, fmt.Sprintf("reject:%d", order.ID)))
	before := h.api.sentCount()
	h.post(t, callbackUpdate("q4", operatorChatID, fmt.Sprintf("reject:%d", order.ID)))

	if h.api.sentCount() != before {
		t.Fatal("retried decision sent another customer notification")
	}
	order, _ = h.repo.GetByID(ctx, order.ID)
	if order.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want rejected", order.Status)
	}
}

// flakyRepo fails a fixed number of Create calls before behaving normally,
// standing in for a store hiccup at slip time.
type flakyRepo struct {
	*orders.MemoryRepository
	failCreates int
}

func (r *flakyRepo) Create(ctx context.Context, order *domain.Order) error {
	if r.failCreates > 0 {
		r.failCreates--
		return errors.New("store unavailable")
	}
	return r.MemoryRepository.Create(ctx, order)
}

func TestSlipRetryAfterStoreFailure(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: orders.NewMemoryRepository(), failCreates: 1}
	h := newHarnessWith(t, repo)
	ctx := context.Background()
	chatID := int64(650)

	h.post(t, callbackUpdate("q1", chatID, "game:PUBG"))
	h.post(t, textUpdate(chatID, "8888 325UC 23500"))

	h.post(t, photoUpdate(chatID, "slip"))
	if got := h.api.lastTo(t, chatID).text; !strings.Contains(got, "send it again") {
		t.Fatalf("expected retry prompt after failed slip, got %q", got)
	}
	if _, err := h.repo.GetByID(ctx, 1); err == nil {
		t.Fatal("failed create still produced an order")
	}

	// The dialogue must survive the failure so the retry photo lands.
	h.post(t, photoUpdate(chatID, "slip"))
	order, err := h.repo.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("retry photo did not create the order: %v", err)
	}
	if order.Status != domain.StatusAwaitingConfirmation || order.ProofRef != "slip" {
		t.Fatalf("after retry: status=%s proof=%q", order.Status, order.ProofRef)
	}
	confirm := h.api.lastTo(t, chatID)
	if confirm.fileID != "slip" || confirm.keyboard == nil {
		t.Fatalf("expected slip echo with confirm button after retry")
	}
	if h.tracker.Get(chatID) != nil {
		t.Error("dialogue state should be cleared once the slip is recorded")
	}
}

func TestWebOrderClaimWithMissingServerID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.service.Create(ctx, domain.OriginWeb, domain.GameMLBB,
		[]domain.OrderItem{
			{Label: "514 Diamonds", Price: 28500, Qty: 1},
			{Label: "86 Diamonds", Price: 3000, Qty: 2},
		},
		domain.GameIDs{MlbbID: "42"})
	if err != nil {
		t.Fatalf("create web order: %v", err)
	}
	token, err := h.broker.Issue(handoff.CartPayload{
		OrderID: order.ID,
		Game:    order.Game,
		GameIDs: order.GameIDs,
		Items:   order.Items,
		Total:   order.Total,
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	chatID := int64(660)
	h.post(t, textUpdate(chatID, "/start "+token))
	if got := h.api.lastTo(t, chatID).text; !strings.Contains(got, "MLBB user id") {
		t.Fatalf("expected id prompt after claim, got %q", got)
	}

	h.post(t, textUpdate(chatID, "42"))
	h.post(t, textUpdate(chatID, "7"))

	// The cart was priced at checkout, so the bot asks for the slip instead
	// of offering its own package menu.
	last := h.api.lastTo(t, chatID)
	if strings.Contains(last.text, "Pick a package") {
		t.Fatalf("claimed order was offered the package menu: %q", last.text)
	}
	if !strings.Contains(last.text, "payment slip") {
		t.Fatalf("expected slip prompt, got %q", last.text)
	}

	h.post(t, photoUpdate(chatID, "web-slip"))
	bound, _ := h.repo.GetByID(ctx, order.ID)
	if bound.Status != domain.StatusAwaitingConfirmation || bound.ProofRef != "web-slip" {
		t.Fatalf("after slip: status=%s proof=%q", bound.Status, bound.ProofRef)
	}
	if bound.GameIDs.MlbbID != "42" || bound.GameIDs.MlbbServerID != "7" {
		t.Fatalf("chat-collected ids not persisted: %+v", bound.GameIDs)
	}
	if bound.Total != order.Total {
		t.Fatalf("cart total changed from %d to %d", order.Total, bound.Total)
	}
	if _, err := h.repo.GetByID(ctx, order.ID+1); err == nil {
		t.Fatal("slip created a second order")
	}
}

func TestOperatorDecisionOnUnknownOrder(t *testing.T) {
	h := newHarness(t)

	h.post(t, callbackUpdate("q1", operatorChatID, "approve:9999"))

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	if len(h.api.acks) != 1 {
		t.Fatalf("acks = %+v, want exactly one", h.api.acks)
	}
	got := h.api.acks[0]
	if got.text != "Order not found." || !got.alert {
		t.Fatalf("ack = %+v, want order-not-found alert", got)
	}
}

func TestPhotoWithoutDialogueIsDropped(t *testing.T) {
	h := newHarness(t)

	h.post(t, photoUpdate(700, "random-photo"))

	if h.api.sentCount() != 0 {
		t.Fatalf("unsolicited photo produced %d messages", h.api.sentCount())
	}
	if _, err := h.repo.GetByID(context.Background(), 1); err == nil {
		t.Fatal("unsolicited photo created an order")
	}
}

func TestUnknownCallbackIsAcked(t *testing.T) {
	h := newHarness(t)

	h.post(t, callbackUpdate("q9", 800, "mystery:1"))

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	if len(h.api.acks) != 1 || h.api.acks[0].queryID != "q9" {
		t.Fatalf("unknown callback not acknowledged: %+v", h.api.acks)
	}
}

func TestDecodeVariants(t *testing.T) {
	t.Run("command with group suffix", func(t *testing.T) {
		ev := Decode(textUpdate(1, "/start@BikaStoreBot web_abc"))
		cmd, ok := ev.(CommandEvent)
		if !ok || cmd.Name != "start" || cmd.Payload != "web_abc" {
			t.Fatalf("got %+v", ev)
		}
	})

	t.Run("empty update ignored", func(t *testing.T) {
		if ev := Decode(telegram.Update{}); ev != nil {
			t.Fatalf("got %+v, want nil", ev)
		}
	})

	t.Run("photo picks largest size", func(t *testing.T) {
		ev := Decode(photoUpdate(1, "big"))
		photo, ok := ev.(PhotoEvent)
		if !ok || photo.FileID != "big" {
			t.Fatalf("got %+v", ev)
		}
	})

	t.Run("callback splits on first colon only", func(t *testing.T) {
		ev := Decode(callbackUpdate("q", 1, "package:9800:172 Diamonds"))
		cb, ok := ev.(CallbackEvent)
		if !ok || cb.Action != "package" || cb.Arg != "9800:172 Diamonds" {
			t.Fatalf("got %+v", ev)
		}
	})
}
