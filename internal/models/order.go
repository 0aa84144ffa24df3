package models

// OrderStatus is the workflow status of the external order owning a shipment.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
)

type Order struct {
	ID     string      `json:"id"`
	UserID string      `json:"userId"`
	Status OrderStatus `json:"status"`
}

type Account struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	IsActive bool   `json:"isActive"`
}
