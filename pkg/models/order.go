package models

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusSuccess OrderStatus = "success"
	OrderStatusFailed  OrderStatus = "failed"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Order is a user trade intent tracked from submission through on-chain
// confirmation. Orders are keyed by transaction ID; an ID appears in at
// most one of the pending and completed collections.
type Order struct {
	Status      OrderStatus
	Side        OrderSide
	AssetKey    string
	AmountSBTC  float64
	TxID        string
	BlockNumber uint64
	Timestamp   int64
	AmountAsset float64
}

// Orders maps transaction IDs to orders.
type Orders map[string]Order
