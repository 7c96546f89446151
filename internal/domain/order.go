package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ContractSide indicates which outcome contract the order trades.
type ContractSide string

const (
	ContractYes ContractSide = "yes"
	ContractNo  ContractSide = "no"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusWorking         OrderStatus = "working"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// Order is one leg order owned by the execution coordinator for the duration
// of its life. ClientID is the idempotency key supplied on submission so
// ambiguous responses can be retried safely.
type Order struct {
	ClientID        string
	ExchangeID      string
	Ticker          string
	Side            OrderSide
	Contract        ContractSide
	Quantity        int64
	FilledQuantity  int64
	LimitPriceCents int64
	AvgFillCents    float64
	FeeCents        int64
	Status          OrderStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// FullyFilled reports whether the full quantity has executed.
func (o Order) FullyFilled() bool {
	return o.Quantity > 0 && o.FilledQuantity >= o.Quantity
}

// Fill is a confirmed execution correlated to an order by OrderID.
type Fill struct {
	ID         string
	OrderID    string // exchange order id
	Ticker     string
	Side       OrderSide
	Contract   ContractSide
	Quantity   int64
	PriceCents int64
	IsTaker    bool
	FeeCents   int64
	Timestamp  time.Time
}

// OrderResult wraps the venue response after order submission.
type OrderResult struct {
	ExchangeID   string
	Status       OrderStatus
	FilledCount  int64
	AvgFillCents int64
	Message      string
	ShouldRetry  bool
}
