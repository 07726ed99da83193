package domain

// Resources is an amount of each resource dimension.
type Resources struct {
	Funding   float64 `json:"funding" yaml:"funding"`
	Personnel float64 `json:"personnel" yaml:"personnel"`
	Equipment float64 `json:"equipment" yaml:"equipment"`
}

// Budget is the fixed pool distributed by the allocator.
type Budget = Resources

// RegionSignal carries the evidence-derived priority inputs for one region.
type RegionSignal struct {
	Region         string  `json:"region"`
	EventCount     int     `json:"event_count"`
	EconomicImpact float64 `json:"economic_impact"`
	Vulnerability  float64 `json:"vulnerability"`
}

// PriorityTier buckets regions relative to the highest-priority region.
type PriorityTier string

const (
	TierHigh   PriorityTier = "high"
	TierMedium PriorityTier = "medium"
	TierLow    PriorityTier = "low"
)

// RegionAllocation is one region's share of the budget.
type RegionAllocation struct {
	Region    string       `json:"region"`
	Priority  float64      `json:"priority"`
	Tier      PriorityTier `json:"tier"`
	Allocated Resources    `json:"allocated"`
	Capped    []string     `json:"capped,omitempty"`
}

// AllocationPlan is a regenerable distribution of a budget across regions.
type AllocationPlan struct {
	Budget     Budget             `json:"budget"`
	Regions    []RegionAllocation `json:"regions"`
	Coverage   float64            `json:"coverage"`
	Efficiency float64            `json:"efficiency"`
}

// Region returns the allocation for name, if present.
func (p AllocationPlan) Region(name string) (RegionAllocation, bool) {
	for _, r := range p.Regions {
		if r.Region == name {
			return r, true
		}
	}
	return RegionAllocation{}, false
}
