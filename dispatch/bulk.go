package dispatch

import (
	"context"

	"github.com/AVVKavvk/livekit-caller/models"
	"golang.org/x/sync/errgroup"
)

// BulkResult is the per-number outcome of a bulk dispatch.
type BulkResult struct {
	Phone   string                `json:"phone"`
	Status  string                `json:"status"`
	Details models.DispatchResult `json:"details"`
}

// Bulk dispatches every number independently, at most limit at a time, and reports
// results in input order. A failure never stops the remaining numbers. With limit 1
// the numbers are dialled one after another.
func (d *Dispatcher) Bulk(ctx context.Context, numbers []string, limit int) []BulkResult {
	if limit < 1 {
		limit = 1
	}
	results := make([]BulkResult, len(numbers))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, phone := range numbers {
		g.Go(func() error {
			res, _ := d.Call(ctx, phone)
			status := "failed"
			if res.Success && res.DispatchID != "" {
				status = "dispatched"
			}
			results[i] = BulkResult{Phone: phone, Status: status, Details: res}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
