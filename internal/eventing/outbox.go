package eventing

// OutboxRecord is a stored envelope awaiting delivery.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}
