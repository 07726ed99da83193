package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/couchcryptid/climate-witness/internal/domain"
)

// Resource dimension names, as reported in RegionAllocation.Capped.
const (
	DimensionFunding   = "funding"
	DimensionPersonnel = "personnel"
	DimensionEquipment = "equipment"
)

// AllocateResources splits budget across regions by evidence-derived priority.
// Each resource dimension is divided in proportion to priority and then
// water-filled so that no region receives more than CapFraction of it, unless
// it is the only region left uncapped. Regions are processed in name order and
// the result is deterministic.
func AllocateResources(budget domain.Budget, signals []domain.RegionSignal, pol AllocationPolicy) (domain.AllocationPlan, error) {
	if err := validateBudget(budget); err != nil {
		return domain.AllocationPlan{}, err
	}
	regions := mergeSignals(signals)
	if len(regions) == 0 {
		return domain.AllocationPlan{}, fmt.Errorf("allocate resources: %w", domain.ErrNoCandidateRegions)
	}

	shares := priorityShares(regions, pol.Weights)
	capFrac := pol.CapFraction
	if capFrac <= 0 || capFrac > 1 {
		capFrac = 1
	}

	dims := []struct {
		name  string
		total float64
		set   func(*domain.Resources, float64)
	}{
		{DimensionFunding, budget.Funding, func(r *domain.Resources, v float64) { r.Funding = v }},
		{DimensionPersonnel, budget.Personnel, func(r *domain.Resources, v float64) { r.Personnel = v }},
		{DimensionEquipment, budget.Equipment, func(r *domain.Resources, v float64) { r.Equipment = v }},
	}

	out := make([]domain.RegionAllocation, len(regions))
	for i, r := range regions {
		out[i] = domain.RegionAllocation{Region: r.Region, Priority: shares[i]}
	}

	var efficiency float64
	nonEmpty := 0
	for _, d := range dims {
		amounts, capped := waterFill(d.total, shares, capFrac)
		var eff float64
		for i := range out {
			d.set(&out[i].Allocated, amounts[i])
			if capped[i] {
				out[i].Capped = append(out[i].Capped, d.name)
			}
			eff += shares[i] * amounts[i]
		}
		if d.total > 0 {
			efficiency += eff / d.total
			nonEmpty++
		}
	}
	if nonEmpty > 0 {
		efficiency /= float64(nonEmpty)
	}

	top := 0.0
	for _, s := range shares {
		top = math.Max(top, s)
	}
	covered := 0
	for i := range out {
		out[i].Tier = tierFor(shares[i], top)
		a := out[i].Allocated
		if a.Funding > 0 || a.Personnel > 0 || a.Equipment > 0 {
			covered++
		}
	}

	return domain.AllocationPlan{
		Budget:     budget,
		Regions:    out,
		Coverage:   float64(covered) / float64(len(out)),
		Efficiency: efficiency,
	}, nil
}

func validateBudget(b domain.Budget) error {
	for _, v := range []float64{b.Funding, b.Personnel, b.Equipment} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("allocate resources: %w: negative or non-finite amount %v", domain.ErrInvalidBudget, v)
		}
	}
	if b.Funding+b.Personnel+b.Equipment == 0 {
		return fmt.Errorf("allocate resources: %w: nothing to allocate", domain.ErrInvalidBudget)
	}
	return nil
}

// mergeSignals sorts signals by region and folds duplicates together.
// Negative or non-finite inputs count as zero.
func mergeSignals(signals []domain.RegionSignal) []domain.RegionSignal {
	byRegion := make(map[string]domain.RegionSignal, len(signals))
	for _, s := range signals {
		cur := byRegion[s.Region]
		cur.Region = s.Region
		cur.EventCount += max(s.EventCount, 0)
		cur.EconomicImpact += nonNegative(s.EconomicImpact)
		cur.Vulnerability = math.Max(cur.Vulnerability, nonNegative(s.Vulnerability))
		byRegion[s.Region] = cur
	}
	out := make([]domain.RegionSignal, 0, len(byRegion))
	for _, s := range byRegion {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// priorityShares max-normalizes each signal dimension, takes the weighted sum
// and normalizes the result to shares summing to 1. All-zero priorities yield
// equal shares.
func priorityShares(regions []domain.RegionSignal, w AllocationWeights) []float64 {
	var maxCount, maxImpact, maxVuln float64
	for _, r := range regions {
		maxCount = math.Max(maxCount, float64(r.EventCount))
		maxImpact = math.Max(maxImpact, r.EconomicImpact)
		maxVuln = math.Max(maxVuln, r.Vulnerability)
	}

	raw := make([]float64, len(regions))
	var total float64
	for i, r := range regions {
		raw[i] = w.EventCount*ratio(float64(r.EventCount), maxCount) +
			w.EconomicImpact*ratio(r.EconomicImpact, maxImpact) +
			w.Vulnerability*ratio(r.Vulnerability, maxVuln)
		total += raw[i]
	}

	shares := make([]float64, len(regions))
	for i := range raw {
		if total > 0 {
			shares[i] = raw[i] / total
		} else {
			shares[i] = 1 / float64(len(regions))
		}
	}
	return shares
}

func ratio(v, hi float64) float64 {
	if hi <= 0 {
		return 0
	}
	return v / hi
}

// waterFill divides total in proportion to shares, caps any portion above
// capFrac*total and redistributes the surplus among uncapped entries until none
// exceeds the cap or only one remains uncapped. Amounts sum to total exactly.
func waterFill(total float64, shares []float64, capFrac float64) ([]float64, []bool) {
	n := len(shares)
	amounts := make([]float64, n)
	capped := make([]bool, n)
	if total <= 0 || n == 0 {
		return amounts, capped
	}

	limit := capFrac * total
	eps := 1e-9 * total
	remaining := total

	for {
		open := make([]int, 0, n)
		var openShare float64
		for i := range shares {
			if !capped[i] {
				open = append(open, i)
				openShare += shares[i]
			}
		}
		for _, i := range open {
			if openShare > 0 {
				amounts[i] = remaining * shares[i] / openShare
			} else {
				amounts[i] = remaining / float64(len(open))
			}
		}
		if len(open) <= 1 {
			break
		}

		var over []int
		for _, i := range open {
			if amounts[i] > limit+eps {
				over = append(over, i)
			}
		}
		if len(over) == 0 {
			break
		}
		sort.SliceStable(over, func(a, b int) bool { return amounts[over[a]] > amounts[over[b]] })
		if len(over) >= len(open) {
			over = over[:len(open)-1]
		}
		for _, i := range over {
			amounts[i] = limit
			capped[i] = true
			remaining -= limit
		}
	}

	// The last funded entry absorbs floating point residue.
	last := -1
	var others float64
	for i := range amounts {
		if amounts[i] > 0 {
			last = i
		}
	}
	for i := range amounts {
		if i != last {
			others += amounts[i]
		}
	}
	if last >= 0 {
		amounts[last] = total - others
	}
	return amounts, capped
}

func tierFor(share, top float64) domain.PriorityTier {
	if top <= 0 {
		return domain.TierLow
	}
	switch r := share / top; {
	case r >= 2.0/3:
		return domain.TierHigh
	case r >= 1.0/3:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}
