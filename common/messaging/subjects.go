package messaging

// Subjects follow {domain}.{resource}.{action}.
const (
	// SubjectDeliveriesCompleted carries every successful token delivery.
	SubjectDeliveriesCompleted = "vre.deliveries.completed"
	// SubjectDeliveriesFailed carries deliveries that need operator repair.
	SubjectDeliveriesFailed = "vre.deliveries.failed"
	// SubjectDeliveriesAll matches every delivery subject.
	SubjectDeliveriesAll = "vre.deliveries.>"

	// SubjectDLQ is the root for dead-lettered deliveries.
	SubjectDLQ = "vre.dlq"
)

// DLQSubject returns the dead-letter subject for a failure reason.
// Example: vre.dlq.delivery_failed
func DLQSubject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	return SubjectDLQ + "." + reason
}
