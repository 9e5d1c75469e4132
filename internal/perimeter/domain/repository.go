package perimeter

import "context"

// EventSource loads the normalized contractual history of a tenant.
type EventSource interface {
	ListEvents(ctx context.Context, tenantID string) ([]ContractEvent, error)
}

// EventSink appends normalized events handed over by the flux collaborator.
type EventSink interface {
	AppendEvents(ctx context.Context, tenantID string, events []ContractEvent) error
}

// Validate checks the identity fields every stored event must carry.
func (e ContractEvent) Validate() error {
	if e.ContractID == "" {
		return ErrEmptyContractID
	}
	if e.DeliveryPoint == "" {
		return ErrEmptyDeliveryPoint
	}
	if e.At.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}
