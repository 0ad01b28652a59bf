package queue

const StreamName = "collector:spool:flush-requests"
const ConsumerGroup = "spool-flushers"

// DeliveredStream receives one entry per spool file every processor delivered.
const DeliveredStream = "collector:spool:delivered"

type FlushMessage struct {
	RequestID string
	Reason    string
}
