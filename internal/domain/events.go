package domain

import "time"

// OrderStatusEvent is published on the order.status topic after every
// committed transition. Consumers append it to the audit log.
type OrderStatusEvent struct {
	EventID   string      `json:"event_id"`
	OrderID   int64       `json:"order_id"`
	OrderCode string      `json:"order_code"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
}
