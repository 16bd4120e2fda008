package events

const (
	TopicOrderPlaced         = "orders.placed"
	TopicPaymentSettled      = "orders.payment.settled"
	TopicReservationReleased = "inventory.reservation.released"
	TopicPaymentCallbacks    = "payments.callbacks"
)

// Topics lists every topic the services publish to.
var Topics = []string{TopicOrderPlaced, TopicPaymentSettled, TopicReservationReleased, TopicPaymentCallbacks}

// Partition key = order_id (atau intent_id untuk callback), supaya event 1 order tetap berurutan.
func PartitionKey(id string) []byte { return []byte(id) }
