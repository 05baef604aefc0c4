package engine

import (
	"context"
	"sort"

	"fieldline/internal/domain"
)

// The worklist views are pure projections re-derived from a full read on
// every call. Freshness comes from polling, not push.

// ExecutorBuckets splits the executor's worklist into still-active and
// finished solicitations.
type ExecutorBuckets struct {
	Active   []domain.Solicitation
	Finished []domain.Solicitation
}

// ReviewerQueue returns records awaiting review, newest first.
func ReviewerQueue(all []domain.Solicitation) []domain.Solicitation {
	var out []domain.Solicitation
	for _, s := range all {
		if s.CurrentStatus == domain.StatusSubmitted {
			out = append(out, s)
		}
	}
	sortNewestFirst(out)
	return out
}

// ReviewerHistory returns records the reviewer already acted on (anything no
// longer in submitted), newest first.
func ReviewerHistory(all []domain.Solicitation) []domain.Solicitation {
	var out []domain.Solicitation
	for _, s := range all {
		if s.CurrentStatus != domain.StatusSubmitted {
			out = append(out, s)
		}
	}
	sortNewestFirst(out)
	return out
}

// ExecutorQueue returns every record that has ever been sent to the executor,
// bucketed into active and finished, newest first within each bucket.
func ExecutorQueue(all []domain.Solicitation) ExecutorBuckets {
	var buckets ExecutorBuckets
	for _, s := range all {
		if !everSentToExecutor(s) {
			continue
		}
		if s.CurrentStatus == domain.StatusFinished {
			buckets.Finished = append(buckets.Finished, s)
		} else {
			buckets.Active = append(buckets.Active, s)
		}
	}
	sortNewestFirst(buckets.Active)
	sortNewestFirst(buckets.Finished)
	return buckets
}

// SentBy returns the display name of the actor who most recently sent the
// solicitation to the executor. "unknown" only if no such entry exists, which
// ordering guarantees cannot happen once the record reaches that state.
func SentBy(s domain.Solicitation) string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Status == domain.StatusSentToExecutor {
			return s.History[i].ActorName
		}
	}
	return "unknown"
}

// ReviewerQueue reads the store and projects the reviewer's worklist.
func (e Engine) ReviewerQueue(ctx context.Context) ([]domain.Solicitation, error) {
	all, err := e.Store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return ReviewerQueue(all), nil
}

// ReviewerHistory reads the store and projects the reviewer's processed list.
func (e Engine) ReviewerHistory(ctx context.Context) ([]domain.Solicitation, error) {
	all, err := e.Store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return ReviewerHistory(all), nil
}

// ExecutorQueue reads the store and projects the executor's worklist.
func (e Engine) ExecutorQueue(ctx context.Context) (ExecutorBuckets, error) {
	all, err := e.Store.ListAll(ctx)
	if err != nil {
		return ExecutorBuckets{}, err
	}
	return ExecutorQueue(all), nil
}

func everSentToExecutor(s domain.Solicitation) bool {
	for _, h := range s.History {
		if h.Status == domain.StatusSentToExecutor {
			return true
		}
	}
	return false
}

func sortNewestFirst(list []domain.Solicitation) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt > list[j].CreatedAt
		}
		return list[i].ID > list[j].ID
	})
}
