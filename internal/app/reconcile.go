/**
 * @description
 * This file contains the periodic reconciliation pass run by the scheduler in
 * cmd/main.go. A transfer row can be left in `processing` if the process dies
 * between the insert and the commit of the completing update in a partial
 * outage; those rows are terminal failures once they age past the cutoff.
 */

package app

import (
	"context"
	"log"
	"time"
)

// FailStaleTransfers marks processing ledger entries older than maxAge as
// failed and returns how many rows were reconciled.
func (s *Service) FailStaleTransfers(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge)
	count, err := s.repo.FailStaleProcessingTransactions(ctx, cutoff)
	if err != nil {
		log.Printf("level=error component=reconcile msg=\"stale transfer sweep failed\" err=%v", err)
		return 0, err
	}
	if count > 0 {
		log.Printf("level=warn component=reconcile msg=\"stale processing transfers failed out\" count=%d cutoff=%s", count, cutoff.UTC().Format(time.RFC3339))
	}
	return count, nil
}
