package health

import "time"

// Tier is an ordered link quality classification. Lower is worse.
type Tier int

const (
	TierPoor Tier = iota
	TierFair
	TierGood
	TierExcellent
)

func (t Tier) String() string {
	switch t {
	case TierPoor:
		return "poor"
	case TierFair:
		return "fair"
	case TierGood:
		return "good"
	case TierExcellent:
		return "excellent"
	}
	return "unknown"
}

// Threshold bands. RTT and loss are classified independently; the
// report carries the worse of the two.
const (
	rttExcellent = 100 * time.Millisecond
	rttGood      = 250 * time.Millisecond
	rttFair      = 400 * time.Millisecond

	lossExcellent = 1.0
	lossGood      = 3.0
	lossFair      = 8.0
)

func classifyRTT(rtt time.Duration) Tier {
	switch {
	case rtt <= rttExcellent:
		return TierExcellent
	case rtt <= rttGood:
		return TierGood
	case rtt <= rttFair:
		return TierFair
	}
	return TierPoor
}

func classifyLoss(lossPercent float64) Tier {
	switch {
	case lossPercent <= lossExcellent:
		return TierExcellent
	case lossPercent <= lossGood:
		return TierGood
	case lossPercent <= lossFair:
		return TierFair
	}
	return TierPoor
}

// Classify combines the two independent classifications, taking the
// worse tier.
func Classify(rtt time.Duration, lossPercent float64) Tier {
	return min(classifyRTT(rtt), classifyLoss(lossPercent))
}
