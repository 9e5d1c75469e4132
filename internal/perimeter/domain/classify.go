package perimeter

// Classification tags what an event affects.
type Classification struct {
	ImpactsSubscription bool
	ImpactsEnergy       bool
	Synthetic           bool
}

// Classify tags one event. Synthetic month-boundary markers also close
// subscription periods so that periods never straddle a billing month they
// were not observed in; real billing-cycle markers only carry a reading.
func Classify(e ContractEvent) Classification {
	c := Classification{Synthetic: e.Synthetic}
	switch e.Type {
	case EventEntry, EventExit, EventPowerChange, EventFormulaChange, EventMeterChange:
		c.ImpactsSubscription = true
		c.ImpactsEnergy = true
	case EventCalendarChange:
		c.ImpactsEnergy = true
	case EventBillingCycle:
		c.ImpactsEnergy = true
		c.ImpactsSubscription = e.Synthetic
	}
	return c
}

// IsKnown reports whether t is one of the enumerated event types.
func IsKnown(t EventType) bool {
	switch t {
	case EventEntry, EventExit, EventPowerChange, EventFormulaChange,
		EventMeterChange, EventCalendarChange, EventBillingCycle:
		return true
	}
	return false
}
