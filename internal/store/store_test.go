package store_test

import (
	"context"
	"errors"
	"testing"

	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/migrate"
	"fieldline/internal/store"
)

func newSQLStore(t *testing.T) store.SQL {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.SQL{DB: conn}
}

func sample(id string) domain.Solicitation {
	return domain.Solicitation{
		ID:            id,
		SubmitterID:   "u1",
		SubmitterName: "Ana Worker",
		PhotoRef:      "photo://p1.jpg",
		Location:      domain.Location{Latitude: -23.55, Longitude: -46.63},
		Address:       &domain.Address{City: "Sao Paulo", DisplayName: "Av. Paulista, Sao Paulo"},
		Note:          "broken streetlight",
		CreatedAt:     "2024-05-01T12:00:00Z",
		CurrentStatus: domain.StatusSubmitted,
		History: []domain.StatusEntry{{
			Status:    domain.StatusSubmitted,
			ActorName: "Ana Worker",
			Timestamp: "2024-05-01T12:00:00Z",
		}},
	}
}

func stores(t *testing.T) map[string]store.Store {
	return map[string]store.Store{
		"sql":    newSQLStore(t),
		"memory": store.NewMemory(),
	}
}

func TestInsertAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sample("sol_1")
			if _, err := s.Insert(ctx, want); err != nil {
				t.Fatalf("insert: %v", err)
			}
			got, err := s.GetByID(ctx, "sol_1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.SubmitterName != want.SubmitterName || got.Note != want.Note {
				t.Fatalf("record mangled: %+v", got)
			}
			if got.Address == nil || got.Address.City != "Sao Paulo" {
				t.Fatalf("address lost: %+v", got.Address)
			}
			if len(got.History) != 1 || got.History[0].Status != domain.StatusSubmitted {
				t.Fatalf("history lost: %+v", got.History)
			}
			if got.Location.Latitude != want.Location.Latitude {
				t.Fatalf("location lost: %+v", got.Location)
			}
		})
	}
}

func TestInsertDuplicate(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Insert(ctx, sample("sol_1")); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if _, err := s.Insert(ctx, sample("sol_1")); !errors.Is(err, store.ErrDuplicateID) {
				t.Fatalf("expected ErrDuplicateID, got %v", err)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.GetByID(context.Background(), "sol_missing"); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestReplace(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sol := sample("sol_1")
			if _, err := s.Insert(ctx, sol); err != nil {
				t.Fatalf("insert: %v", err)
			}
			sol.History = append(sol.History, domain.StatusEntry{
				Status:    domain.StatusRefused,
				ActorName: "Rui Reviewer",
				Timestamp: "2024-05-01T13:00:00Z",
			})
			sol.CurrentStatus = domain.StatusRefused
			if _, err := s.Replace(ctx, sol); err != nil {
				t.Fatalf("replace: %v", err)
			}
			got, err := s.GetByID(ctx, "sol_1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.CurrentStatus != domain.StatusRefused || len(got.History) != 2 {
				t.Fatalf("replace not persisted: %+v", got)
			}
		})
	}
}

func TestReplaceMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Replace(context.Background(), sample("sol_ghost")); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestListAll(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"sol_1", "sol_2", "sol_3"} {
				if _, err := s.Insert(ctx, sample(id)); err != nil {
					t.Fatalf("insert %s: %v", id, err)
				}
			}
			all, err := s.ListAll(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3, got %d", len(all))
			}
		})
	}
}

func TestMemoryClonesHistory(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	sol := sample("sol_1")
	if _, err := m.Insert(ctx, sol); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetByID(ctx, "sol_1")
	if err != nil {
		t.Fatal(err)
	}
	got.History[0].ActorName = "tampered"
	got.Address.City = "tampered"
	again, err := m.GetByID(ctx, "sol_1")
	if err != nil {
		t.Fatal(err)
	}
	if again.History[0].ActorName != "Ana Worker" || again.Address.City != "Sao Paulo" {
		t.Fatalf("stored record aliased by caller: %+v", again)
	}
}
