package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bikastore/backend/internal/domain"
	"github.com/bikastore/backend/internal/telegram"
)

// Conversation prompts sent by the webhook dispatcher. They share the
// notifier's delivery policy: failures are logged and counted, and customer
// messages are recorded for cleanup.

// Welcome greets a bare /start with the store link and game selection.
func (n *Notifier) Welcome(ctx context.Context, chatID int64) {
	text := "Welcome to BIKA Store!\n\n" +
		"Order on the web store and come back here to pay, " +
		"or pick a game below to order in chat."

	keyboard := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "Open Web Store", URL: n.storeURL}},
			{
				{Text: "MLBB", CallbackData: fmt.Sprintf("%s:%s", ActionGame, domain.GameMLBB)},
				{Text: "PUBG", CallbackData: fmt.Sprintf("%s:%s", ActionGame, domain.GamePUBG)},
			},
		},
	}
	n.prompt(ctx, chatID, text, keyboard)
}

// Prompt sends plain dialogue text (ask for an id, re-entry nudges, expired
// link notices).
func (n *Notifier) Prompt(ctx context.Context, chatID int64, text string) {
	n.prompt(ctx, chatID, text, nil)
}

// PackageMenu offers the game's packages as buttons. Callback data carries
// the price before the label so a label containing ':' still parses.
func (n *Notifier) PackageMenu(ctx context.Context, chatID int64, packages []domain.OrderItem) {
	rows := make([][]telegram.InlineKeyboardButton, 0, len(packages))
	for _, pkg := range packages {
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         fmt.Sprintf("%s - %d Ks", pkg.Label, pkg.Price),
			CallbackData: fmt.Sprintf("%s:%d:%s", ActionPackage, pkg.Price, pkg.Label),
		}})
	}
	n.prompt(ctx, chatID, "Pick a package:", &telegram.InlineKeyboardMarkup{InlineKeyboard: rows})
}

// PaymentRequest asks for the slip once the in-chat dialogue has a package.
func (n *Notifier) PaymentRequest(ctx context.Context, chatID int64, pkg string, price int64) {
	text := strings.Join([]string{
		fmt.Sprintf("%s - %d Ks", pkg, price),
		"",
		"Payment info",
		"KPay: Shine Htet Aung (09 264 202 637)",
		"WavePay: Shine Htet Aung (09 264 202 637)",
		"",
		"Pay the total and send the slip photo to this chat.",
	}, "\n")
	n.prompt(ctx, chatID, text, nil)
}

// ClaimPreview shows a freshly claimed web order with payment instructions.
func (n *Notifier) ClaimPreview(ctx context.Context, chatID int64, order *domain.Order) {
	var lines []string
	lines = append(lines, "Web order preview")
	lines = append(lines, "")
	lines = append(lines, "Game - "+string(order.Game))
	if idLine := gameIDLine(order); idLine != "" {
		lines = append(lines, idLine)
	}
	lines = append(lines, "", "Items:")
	for _, item := range order.Items {
		lines = append(lines, fmt.Sprintf("- %s x %d = %d Ks", item.Label, item.Qty, item.Price*int64(item.Qty)))
	}
	lines = append(lines, "",
		fmt.Sprintf("Total MMK - %d Ks", order.Total),
		"",
		"Payment info",
		"KPay: Shine Htet Aung (09 264 202 637)",
		"WavePay: Shine Htet Aung (09 264 202 637)",
		"",
		"Pay the total and send the slip photo to this chat.")

	n.prompt(ctx, chatID, strings.Join(lines, "\n"), nil)
}

func (n *Notifier) prompt(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	messageID, err := n.sender.SendMessage(ctx, chatID, text, keyboard)
	if err != nil {
		if n.failures != nil {
			n.failures.Add(ctx, 1)
		}
		n.logger.Error("prompt delivery failed", "chat_id", chatID, "error", err)
		return
	}
	n.recorder.Record(chatID, messageID)
}
