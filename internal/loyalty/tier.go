package loyalty

// Tier is a display classification derived from the cumulative completed
// order count. It never feeds back into earning or redemption rules.
type Tier struct {
	Name              string   `json:"name"`
	Benefits          []string `json:"benefits"`
	NextTierThreshold *int     `json:"next_tier_threshold,omitempty"`
}

type tierBand struct {
	minOrders int
	name      string
	benefits  []string
}

// bands are ordered by ascending threshold; TierFor picks the last band whose
// threshold the count has reached.
var tierBands = []tierBand{
	{0, "Newcomer", []string{"Welcome offer on first milestone"}},
	{10, "Bronze", []string{"Birthday treat"}},
	{20, "Silver", []string{"Birthday treat", "Priority support"}},
	{50, "Gold", []string{"Birthday treat", "Priority support", "Free delivery"}},
	{100, "Platinum", []string{"Birthday treat", "Priority support", "Free delivery", "Chef's table invites"}},
}

// TierFor maps a completed-order count to its tier.
func TierFor(completedOrders int) Tier {
	if completedOrders < 0 {
		completedOrders = 0
	}
	idx := 0
	for i, b := range tierBands {
		if completedOrders >= b.minOrders {
			idx = i
		}
	}
	t := Tier{
		Name:     tierBands[idx].name,
		Benefits: tierBands[idx].benefits,
	}
	if idx+1 < len(tierBands) {
		next := tierBands[idx+1].minOrders
		t.NextTierThreshold = &next
	}
	return t
}
