package notify

import (
	"fmt"
	"strings"

	"github.com/bikastore/backend/internal/domain"
)

// OrderCaption renders the fixed-format summary used on slips sent to the
// customer and the operator.
func OrderCaption(order *domain.Order) string {
	var lines []string

	if order.Handle != "" {
		lines = append(lines, "User - @"+order.Handle)
	} else if order.ChatID != 0 {
		lines = append(lines, fmt.Sprintf("User ID - %d", order.ChatID))
	}

	lines = append(lines, "Game - "+string(order.Game))
	if idLine := gameIDLine(order); idLine != "" {
		lines = append(lines, idLine)
	}

	lines = append(lines,
		"Items - "+itemsShort(order.Items),
		fmt.Sprintf("Total MMK - %d Ks", order.Total),
		"Order ID - "+order.Code,
		"Time - "+order.CreatedAt.Format("02/01/2006 15:04"),
	)

	return strings.Join(lines, "\n")
}

func gameIDLine(order *domain.Order) string {
	switch order.Game {
	case domain.GameMLBB:
		return fmt.Sprintf("ID + SV ID - %s %s", orDash(order.GameIDs.MlbbID), orDash(order.GameIDs.MlbbServerID))
	case domain.GamePUBG:
		return "PUBG ID - " + orDash(order.GameIDs.PubgID)
	}
	return ""
}

// itemsShort joins item labels, e.g. "343 Diamonds + wp1".
func itemsShort(items []domain.OrderItem) string {
	labels := make([]string, 0, len(items))
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	return strings.Join(labels, " + ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
