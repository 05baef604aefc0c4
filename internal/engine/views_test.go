package engine_test

import (
	"testing"

	"fieldline/internal/domain"
	"fieldline/internal/engine"
)

func record(id, createdAt string, status domain.Status, history ...domain.StatusEntry) domain.Solicitation {
	return domain.Solicitation{
		ID:            id,
		SubmitterName: "Ana Worker",
		CreatedAt:     createdAt,
		CurrentStatus: status,
		History:       history,
	}
}

func entry(status domain.Status, actor string) domain.StatusEntry {
	return domain.StatusEntry{Status: status, ActorName: actor, Timestamp: "2024-05-01T12:00:00Z"}
}

func TestReviewerQueueFiltersAndSorts(t *testing.T) {
	all := []domain.Solicitation{
		record("a", "2024-05-01T10:00:00Z", domain.StatusSubmitted, entry(domain.StatusSubmitted, "Ana")),
		record("b", "2024-05-01T11:00:00Z", domain.StatusRefused, entry(domain.StatusSubmitted, "Ana"), entry(domain.StatusRefused, "Rui")),
		record("c", "2024-05-01T12:00:00Z", domain.StatusSubmitted, entry(domain.StatusSubmitted, "Ana")),
	}
	queue := engine.ReviewerQueue(all)
	if len(queue) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(queue))
	}
	if queue[0].ID != "c" || queue[1].ID != "a" {
		t.Fatalf("queue not newest-first: %s, %s", queue[0].ID, queue[1].ID)
	}
	history := engine.ReviewerHistory(all)
	if len(history) != 1 || history[0].ID != "b" {
		t.Fatalf("unexpected reviewer history: %+v", history)
	}
}

func TestExecutorQueueBucketsByHistory(t *testing.T) {
	all := []domain.Solicitation{
		// never approved: invisible to the executor
		record("a", "2024-05-01T10:00:00Z", domain.StatusSubmitted, entry(domain.StatusSubmitted, "Ana")),
		record("b", "2024-05-01T11:00:00Z", domain.StatusStarted,
			entry(domain.StatusSubmitted, "Ana"), entry(domain.StatusSentToExecutor, "Rui"), entry(domain.StatusStarted, "Eva")),
		record("c", "2024-05-01T12:00:00Z", domain.StatusFinished,
			entry(domain.StatusSubmitted, "Ana"), entry(domain.StatusSentToExecutor, "Rui"), entry(domain.StatusFinished, "Eva")),
	}
	buckets := engine.ExecutorQueue(all)
	if len(buckets.Active) != 1 || buckets.Active[0].ID != "b" {
		t.Fatalf("unexpected active bucket: %+v", buckets.Active)
	}
	if len(buckets.Finished) != 1 || buckets.Finished[0].ID != "c" {
		t.Fatalf("unexpected finished bucket: %+v", buckets.Finished)
	}
}

func TestSentByPicksLastApprover(t *testing.T) {
	s := record("a", "2024-05-01T10:00:00Z", domain.StatusStarted,
		entry(domain.StatusSubmitted, "Ana"),
		entry(domain.StatusSentToExecutor, "Rui"),
		entry(domain.StatusOnHold, "Eva"),
		entry(domain.StatusSentToExecutor, "Sara"),
		entry(domain.StatusStarted, "Eva"),
	)
	if got := engine.SentBy(s); got != "Sara" {
		t.Fatalf("expected last approver Sara, got %s", got)
	}
	never := record("b", "2024-05-01T10:00:00Z", domain.StatusSubmitted, entry(domain.StatusSubmitted, "Ana"))
	if got := engine.SentBy(never); got != "unknown" {
		t.Fatalf("expected unknown, got %s", got)
	}
}
