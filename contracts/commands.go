package contracts

import "time"

// DefaultPaymentMethod is used when the order does not specify one.
const DefaultPaymentMethod = "CreditCard"

// DefaultCompensationReason is the reason carried by compensating commands.
const DefaultCompensationReason = "Saga compensation"

// InventoryItem is one line of a reserve or release command.
type InventoryItem struct {
	ProductID int64 `json:"ProductId"`
	Quantity  int   `json:"Quantity"`
}

// ProcessPaymentCommand asks the payment participant to charge the customer.
type ProcessPaymentCommand struct {
	Envelope
	CustomerID    int64   `json:"CustomerId"`
	Amount        float64 `json:"Amount"`
	PaymentMethod string  `json:"PaymentMethod"`
}

func (ProcessPaymentCommand) CommandType() CommandType { return CommandProcessPayment }
func (ProcessPaymentCommand) RoutingKey() string       { return RoutingKeyPayment }
func (ProcessPaymentCommand) isCommand()               {}

// ReleasePaymentCommand refunds a payment. It is a compensation.
type ReleasePaymentCommand struct {
	Envelope
	Amount                float64 `json:"Amount"`
	OriginalTransactionID string  `json:"OriginalTransactionId"`
	Reason                string  `json:"Reason"`
}

func (ReleasePaymentCommand) CommandType() CommandType { return CommandReleasePayment }
func (ReleasePaymentCommand) RoutingKey() string       { return RoutingKeyPayment }
func (ReleasePaymentCommand) isCommand()               {}

// ReserveInventoryCommand reserves every item of the order, all or nothing.
type ReserveInventoryCommand struct {
	Envelope
	Items []InventoryItem `json:"Items"`
}

func (ReserveInventoryCommand) CommandType() CommandType { return CommandReserveInventory }
func (ReserveInventoryCommand) RoutingKey() string       { return RoutingKeyInventory }
func (ReserveInventoryCommand) isCommand()               {}

// ReleaseInventoryCommand returns reserved stock. It is a compensation.
type ReleaseInventoryCommand struct {
	Envelope
	Items  []InventoryItem `json:"Items"`
	Reason string          `json:"Reason"`
}

func (ReleaseInventoryCommand) CommandType() CommandType { return CommandReleaseInventory }
func (ReleaseInventoryCommand) RoutingKey() string       { return RoutingKeyInventory }
func (ReleaseInventoryCommand) isCommand()               {}

// ScheduleDeliveryCommand books the shipment.
type ScheduleDeliveryCommand struct {
	Envelope
	ShippingAddress       string    `json:"ShippingAddress"`
	PreferredDeliveryDate time.Time `json:"PreferredDeliveryDate"`
	DeliveryNotes         string    `json:"DeliveryNotes"`
}

func (ScheduleDeliveryCommand) CommandType() CommandType { return CommandScheduleDelivery }
func (ScheduleDeliveryCommand) RoutingKey() string       { return RoutingKeyDelivery }
func (ScheduleDeliveryCommand) isCommand()               {}

// CancelDeliveryCommand cancels a scheduled shipment. It is a compensation.
type CancelDeliveryCommand struct {
	Envelope
	CancellationReason string `json:"CancellationReason"`
}

func (CancelDeliveryCommand) CommandType() CommandType { return CommandCancelDelivery }
func (CancelDeliveryCommand) RoutingKey() string       { return RoutingKeyDelivery }
func (CancelDeliveryCommand) isCommand()               {}
