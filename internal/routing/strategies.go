package routing

import "github.com/codex-manager/gateway/internal/gwmodel"

// selectLeastUtilized picks the candidate with the smallest utilization
// ratio; ties go to the first in iteration order.
func selectLeastUtilized(candidates []*gwmodel.AccountStatus) *gwmodel.AccountStatus {
	best := candidates[0]
	bestRatio := best.UtilizationRatio()
	for _, c := range candidates[1:] {
		if r := c.UtilizationRatio(); r < bestRatio {
			best, bestRatio = c, r
		}
	}
	return best
}

// selectPriority picks the candidate with the greatest priority; ties go
// to the first in iteration order.
func selectPriority(candidates []*gwmodel.AccountStatus) *gwmodel.AccountStatus {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Account.Priority > best.Account.Priority {
			best = c
		}
	}
	return best
}
