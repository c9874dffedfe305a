package queue

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/store"
)

// Stats summarizes an organization's queue.
type Stats struct {
	OrgID   string                   `json:"org_id"`
	Total   int                      `json:"total"`
	ByState map[governance.State]int `json:"by_state"`

	// MeanResolutionLatency averages created-to-resolved time over every
	// terminal item, expired ones included.
	MeanResolutionLatency time.Duration `json:"mean_resolution_latency"`

	// OldestPendingAge is the age of the oldest open item.
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
}

// Stats computes queue statistics for orgID.
func (s *Service) Stats(ctx context.Context, orgID string) (*Stats, error) {
	items, err := s.store.ListItems(ctx, store.ItemFilter{OrgID: orgID})
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}

	now := s.now().UTC()
	stats := &Stats{OrgID: orgID, Total: len(items), ByState: make(map[governance.State]int)}
	var (
		total    time.Duration
		resolved int
	)
	for _, item := range items {
		stats.ByState[item.State]++
		if item.State.Terminal() {
			if item.ResolvedAt != nil {
				total += item.ResolvedAt.Sub(item.CreatedAt)
				resolved++
			}
			continue
		}
		stats.OldestPendingAge = max(stats.OldestPendingAge, now.Sub(item.CreatedAt))
	}
	if resolved > 0 {
		stats.MeanResolutionLatency = total / time.Duration(resolved)
	}
	return stats, nil
}
