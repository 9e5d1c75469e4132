package perimeter

import (
	"strings"
	"time"

	readings "turpe-billing/internal/readings/domain"
	tariff "turpe-billing/internal/tariff/domain"
)

// EventType is the normalized kind of a contractual event.
type EventType string

const (
	EventEntry          EventType = "entry"
	EventExit           EventType = "exit"
	EventPowerChange    EventType = "power_change"
	EventFormulaChange  EventType = "formula_change"
	EventMeterChange    EventType = "meter_change"
	EventCalendarChange EventType = "calendar_change"
	EventBillingCycle   EventType = "billing_cycle"
	EventUnknown        EventType = "unknown"
)

// Distributor event codes.
const (
	CodeBillingCycle = "FACTURATION"
	CodeContractMod  = "MCT"
)

var codeTypes = map[string]EventType{
	"CFNE":           EventEntry,
	"MES":            EventEntry,
	"PMES":           EventEntry,
	"RES":            EventExit,
	"CFNS":           EventExit,
	"CMAT":           EventMeterChange,
	CodeBillingCycle: EventBillingCycle,
}

// ContractEvent is one row of the contractual history of a delivery point.
// Before/After fields hold the values on each side of the event; nil or
// empty means the flux did not carry them.
type ContractEvent struct {
	ContractID    string
	ContractRef   string
	DeliveryPoint string
	At            time.Time
	Type          EventType
	Code          string
	Synthetic     bool

	BeforePower    *tariff.Power
	AfterPower     *tariff.Power
	BeforeFormula  string
	AfterFormula   string
	BeforeCalendar string
	AfterCalendar  string
	BeforeIndexes  readings.Indexes
	AfterIndexes   readings.Indexes
	BeforeOverrun  *float64
	AfterOverrun   *float64
}

// ResolveType maps a distributor code to an event type. Contract
// modifications (MCT) are resolved by comparing the before/after values.
func ResolveType(e ContractEvent) EventType {
	code := strings.ToUpper(strings.TrimSpace(e.Code))
	if t, ok := codeTypes[code]; ok {
		return t
	}
	if code != CodeContractMod {
		return EventUnknown
	}
	switch {
	case e.BeforePower != nil && e.AfterPower != nil && !e.BeforePower.Equal(*e.AfterPower):
		return EventPowerChange
	case e.BeforeFormula != "" && e.AfterFormula != "" && e.BeforeFormula != e.AfterFormula:
		return EventFormulaChange
	case e.BeforeCalendar != "" && e.AfterCalendar != "" && e.BeforeCalendar != e.AfterCalendar:
		return EventCalendarChange
	default:
		return EventUnknown
	}
}

// Normalize fills Type from Code on events that do not carry one yet.
func Normalize(events []ContractEvent) []ContractEvent {
	out := make([]ContractEvent, len(events))
	for i, e := range events {
		if e.Type == "" {
			e.Type = ResolveType(e)
		}
		out[i] = e
	}
	return out
}

// priority orders events sharing a timestamp: contractual before synthetic,
// structural before markers.
func priority(e ContractEvent) int {
	var p int
	switch e.Type {
	case EventEntry:
		p = 0
	case EventPowerChange:
		p = 1
	case EventFormulaChange:
		p = 2
	case EventMeterChange:
		p = 3
	case EventCalendarChange:
		p = 4
	case EventExit:
		p = 5
	case EventBillingCycle:
		p = 6
	default:
		p = 8
	}
	if e.Synthetic {
		p++
	}
	return p
}

// GroupByContract splits events by contract id, preserving input order.
func GroupByContract(events []ContractEvent) (map[string][]ContractEvent, []string) {
	groups := make(map[string][]ContractEvent)
	var order []string
	for _, e := range events {
		if _, ok := groups[e.ContractID]; !ok {
			order = append(order, e.ContractID)
		}
		groups[e.ContractID] = append(groups[e.ContractID], e)
	}
	return groups, order
}
