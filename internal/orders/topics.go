package orders

const (
	TopicOrderCreated    = "order.created"
	TopicStatusChanged   = "order.status.changed"
	TopicExpiryRequested = "order.expiry.requested"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
