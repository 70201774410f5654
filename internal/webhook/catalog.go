package webhook

import "github.com/bikastore/backend/internal/domain"

// In-chat package catalog. The web storefront carries its own copy of the
// price list; this one only feeds the bot's package menu.
var catalog = map[domain.Game][]domain.OrderItem{
	domain.GameMLBB: {
		{Label: "86 Diamonds", Price: 5000, Qty: 1},
		{Label: "172 Diamonds", Price: 9800, Qty: 1},
		{Label: "257 Diamonds", Price: 14500, Qty: 1},
		{Label: "344 Diamonds", Price: 19500, Qty: 1},
		{Label: "514 Diamonds", Price: 28500, Qty: 1},
		{Label: "Weekly Pass", Price: 6500, Qty: 1},
		{Label: "Twilight Pass", Price: 33000, Qty: 1},
	},
	domain.GamePUBG: {
		{Label: "60 UC", Price: 4800, Qty: 1},
		{Label: "325 UC", Price: 23500, Qty: 1},
		{Label: "660 UC", Price: 46500, Qty: 1},
		{Label: "1800 UC", Price: 119000, Qty: 1},
	},
}

// Packages returns the button list for the game, or nil for an unknown game.
func Packages(game domain.Game) []domain.OrderItem {
	return catalog[game]
}
