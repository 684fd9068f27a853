package contracts

import "time"

// OrderItem is one line of an order as published with OrderCreated.
type OrderItem struct {
	ProductID int64   `json:"ProductId"`
	Quantity  int     `json:"Quantity"`
	Price     float64 `json:"Price"`
}

// ReservedItem reports the quantity reserved for a product.
type ReservedItem struct {
	ProductID        int64 `json:"ProductId"`
	ReservedQuantity int   `json:"ReservedQuantity"`
}

// FailedItem reports a product that could not be reserved.
type FailedItem struct {
	ProductID         int64 `json:"ProductId"`
	RequestedQuantity int   `json:"RequestedQuantity"`
	AvailableQuantity int   `json:"AvailableQuantity"`
}

// ReleasedItem reports the quantity returned to stock for a product.
type ReleasedItem struct {
	ProductID        int64 `json:"ProductId"`
	ReleasedQuantity int   `json:"ReleasedQuantity"`
}

// OrderCreated starts a saga.
type OrderCreated struct {
	Envelope
	CustomerID      int64       `json:"CustomerId"`
	TotalAmount     float64     `json:"TotalAmount"`
	ShippingAddress string      `json:"ShippingAddress"`
	Items           []OrderItem `json:"Items"`
}

func (OrderCreated) EventType() EventType { return EventOrderCreated }
func (OrderCreated) RoutingKey() string   { return RoutingKeyOrderCreated }
func (OrderCreated) isEvent()             {}

// InventoryItems converts the order lines into reservation lines.
func (e OrderCreated) InventoryItems() []InventoryItem {
	items := make([]InventoryItem, 0, len(e.Items))
	for _, item := range e.Items {
		items = append(items, InventoryItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
}

// OrderCompleted is the terminal success event.
type OrderCompleted struct {
	Envelope
	CompletedAt time.Time `json:"CompletedAt"`
}

func (OrderCompleted) EventType() EventType { return EventOrderCompleted }
func (OrderCompleted) RoutingKey() string   { return RoutingKeyOrderCompleted }
func (OrderCompleted) isEvent()             {}

// OrderFailed is the terminal failure event.
type OrderFailed struct {
	Envelope
	Reason   string    `json:"Reason"`
	FailedAt time.Time `json:"FailedAt"`
}

func (OrderFailed) EventType() EventType { return EventOrderFailed }
func (OrderFailed) RoutingKey() string   { return RoutingKeyOrderFailed }
func (OrderFailed) isEvent()             {}

// OrderCompensationStarted announces that a saga entered compensation.
type OrderCompensationStarted struct {
	Envelope
	FailureReason string    `json:"FailureReason"`
	StartedAt     time.Time `json:"StartedAt"`
}

func (OrderCompensationStarted) EventType() EventType { return EventOrderCompensationStarted }
func (OrderCompensationStarted) RoutingKey() string   { return RoutingKeyOrderCompensationStarted }
func (OrderCompensationStarted) isEvent()             {}

// PaymentCompleted reports a successful charge.
type PaymentCompleted struct {
	Envelope
	Amount        float64   `json:"Amount"`
	TransactionID string    `json:"TransactionId"`
	ProcessedAt   time.Time `json:"ProcessedAt"`
}

func (PaymentCompleted) EventType() EventType { return EventPaymentCompleted }
func (PaymentCompleted) RoutingKey() string   { return RoutingKeyPaymentCompleted }
func (PaymentCompleted) isEvent()             {}

// PaymentFailed reports a declined charge.
type PaymentFailed struct {
	Envelope
	Amount   float64   `json:"Amount"`
	Reason   string    `json:"Reason"`
	FailedAt time.Time `json:"FailedAt"`
}

func (PaymentFailed) EventType() EventType { return EventPaymentFailed }
func (PaymentFailed) RoutingKey() string   { return RoutingKeyPaymentFailed }
func (PaymentFailed) isEvent()             {}

// PaymentRefunded confirms a ReleasePaymentCommand. RefundTransactionID is empty when
// there was nothing to refund.
type PaymentRefunded struct {
	Envelope
	Amount                float64   `json:"Amount"`
	OriginalTransactionID string    `json:"OriginalTransactionId"`
	RefundTransactionID   string    `json:"RefundTransactionId"`
	RefundedAt            time.Time `json:"RefundedAt"`
}

func (PaymentRefunded) EventType() EventType { return EventPaymentRefunded }
func (PaymentRefunded) RoutingKey() string   { return RoutingKeyPaymentRefunded }
func (PaymentRefunded) isEvent()             {}

// InventoryReserved reports that every item of the order was reserved.
type InventoryReserved struct {
	Envelope
	ReservedItems []ReservedItem `json:"ReservedItems"`
	ReservedAt    time.Time      `json:"ReservedAt"`
}

func (InventoryReserved) EventType() EventType { return EventInventoryReserved }
func (InventoryReserved) RoutingKey() string   { return RoutingKeyInventoryReserved }
func (InventoryReserved) isEvent()             {}

// InventoryReservationFailed reports that the reservation was rolled back.
type InventoryReservationFailed struct {
	Envelope
	Reason      string       `json:"Reason"`
	FailedItems []FailedItem `json:"FailedItems"`
	FailedAt    time.Time    `json:"FailedAt"`
}

func (InventoryReservationFailed) EventType() EventType { return EventInventoryReservationFailed }
func (InventoryReservationFailed) RoutingKey() string   { return RoutingKeyInventoryReservationFailed }
func (InventoryReservationFailed) isEvent()             {}

// InventoryReleased confirms a ReleaseInventoryCommand.
type InventoryReleased struct {
	Envelope
	ReleasedItems []ReleasedItem `json:"ReleasedItems"`
	ReleasedAt    time.Time      `json:"ReleasedAt"`
}

func (InventoryReleased) EventType() EventType { return EventInventoryReleased }
func (InventoryReleased) RoutingKey() string   { return RoutingKeyInventoryReleased }
func (InventoryReleased) isEvent()             {}

// DeliveryScheduled reports a booked shipment.
type DeliveryScheduled struct {
	Envelope
	ShippingAddress       string    `json:"ShippingAddress"`
	EstimatedDeliveryDate time.Time `json:"EstimatedDeliveryDate"`
	ScheduledAt           time.Time `json:"ScheduledAt"`
}

func (DeliveryScheduled) EventType() EventType { return EventDeliveryScheduled }
func (DeliveryScheduled) RoutingKey() string   { return RoutingKeyDeliveryScheduled }
func (DeliveryScheduled) isEvent()             {}

// DeliverySchedulingFailed reports that the shipment could not be booked.
type DeliverySchedulingFailed struct {
	Envelope
	Reason   string    `json:"Reason"`
	FailedAt time.Time `json:"FailedAt"`
}

func (DeliverySchedulingFailed) EventType() EventType { return EventDeliverySchedulingFailed }
func (DeliverySchedulingFailed) RoutingKey() string   { return RoutingKeyDeliverySchedulingFailed }
func (DeliverySchedulingFailed) isEvent()             {}

// DeliveryCancelled confirms a CancelDeliveryCommand.
type DeliveryCancelled struct {
	Envelope
	CancellationReason string    `json:"CancellationReason"`
	CancelledAt        time.Time `json:"CancelledAt"`
}

func (DeliveryCancelled) EventType() EventType { return EventDeliveryCancelled }
func (DeliveryCancelled) RoutingKey() string   { return RoutingKeyDeliveryCancelled }
func (DeliveryCancelled) isEvent()             {}
