package tariff

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
)

// TierPowers are the four subscribed powers of a large-power (C4) contract,
// one per time-of-use band. P1..P4 are HPH, HCH, HPB, HCB.
type TierPowers struct {
	HPH float64
	HCH float64
	HPB float64
	HCB float64
}

// Validate checks P1 <= P2 <= P3 <= P4.
func (p TierPowers) Validate() error {
	if p.HPH > p.HCH || p.HCH > p.HPB || p.HPB > p.HCB {
		return errors.Wrapf(ErrNonMonotonicTiers, "HPH=%s HCH=%s HPB=%s HCB=%s",
			formatKVA(p.HPH), formatKVA(p.HCH), formatKVA(p.HPB), formatKVA(p.HCB))
	}
	return nil
}

// Power is a subscribed power: one scalar for C5 contracts, four tiers for C4.
type Power struct {
	KVA   float64
	Tiers *TierPowers
}

// SinglePower builds a C5 power.
func SinglePower(kva float64) Power { return Power{KVA: kva} }

// TieredPower builds a C4 power. KVA carries the highest tier.
func TieredPower(hph, hch, hpb, hcb float64) Power {
	return Power{KVA: hcb, Tiers: &TierPowers{HPH: hph, HCH: hch, HPB: hpb, HCB: hcb}}
}

// IsTiered reports whether the power is billed on four tiers.
func (p Power) IsTiered() bool { return p.Tiers != nil }

// Equal compares two powers by value.
func (p Power) Equal(o Power) bool {
	if p.IsTiered() != o.IsTiered() {
		return false
	}
	if p.IsTiered() {
		return *p.Tiers == *o.Tiers
	}
	return p.KVA == o.KVA
}

func (p Power) String() string {
	if p.Tiers != nil {
		return fmt.Sprintf("%s/%s/%s/%skVA",
			formatKVA(p.Tiers.HPH), formatKVA(p.Tiers.HCH), formatKVA(p.Tiers.HPB), formatKVA(p.Tiers.HCB))
	}
	return formatKVA(p.KVA) + "kVA"
}

func formatKVA(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
