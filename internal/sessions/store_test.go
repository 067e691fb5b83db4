package sessions

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/tether/pkg/models"
)

func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func seedLog(n int) []*models.Message {
	log := make([]*models.Message, 0, n)
	for i := 1; i <= n; i++ {
		role := models.RoleUser
		if i%2 == 0 {
			role = models.RoleAssistant
		}
		log = append(log, &models.Message{
			ID:        fmt.Sprintf("m%d", i),
			Role:      role,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		})
	}
	return log
}

func TestStoreRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			session := &models.Session{
				ID:              "sess-1",
				BoundTerminalID: "term-7",
				Title:           "deploy helper",
				Metadata:        map[string]any{"model": "claude-sonnet"},
			}
			log := seedLog(4)
			log[1].ToolCalls = []models.ToolCall{{ID: "c1", Name: "run_command", Input: []byte(`{"command":"ls"}`)}}

			if err := store.SaveSession(ctx, session, log); err != nil {
				t.Fatalf("SaveSession: %v", err)
			}

			gotSession, gotLog, err := store.LoadSession(ctx, "sess-1")
			if err != nil {
				t.Fatalf("LoadSession: %v", err)
			}
			if gotSession.BoundTerminalID != "term-7" || gotSession.Title != "deploy helper" {
				t.Errorf("session = %+v", gotSession)
			}
			if gotSession.Metadata["model"] != "claude-sonnet" {
				t.Errorf("metadata = %v", gotSession.Metadata)
			}
			if len(gotLog) != 4 {
				t.Fatalf("len(log) = %d, want 4", len(gotLog))
			}
			if gotLog[1].ToolCalls[0].Name != "run_command" {
				t.Errorf("tool call lost: %+v", gotLog[1])
			}
			for i, msg := range gotLog {
				if msg.ID != fmt.Sprintf("m%d", i+1) {
					t.Errorf("log[%d].ID = %s, want m%d", i, msg.ID, i+1)
				}
			}
		})
	}
}

func TestStoreSaveReplacesLog(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			session := &models.Session{ID: "sess-1"}

			if err := store.SaveSession(ctx, session, seedLog(6)); err != nil {
				t.Fatalf("SaveSession: %v", err)
			}
			if err := store.SaveSession(ctx, session, seedLog(2)); err != nil {
				t.Fatalf("SaveSession again: %v", err)
			}

			_, log, err := store.LoadSession(ctx, "sess-1")
			if err != nil {
				t.Fatalf("LoadSession: %v", err)
			}
			if len(log) != 2 {
				t.Errorf("len(log) = %d, want 2 after replace", len(log))
			}
		})
	}
}

func TestStoreRollbackToMessage(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			session := &models.Session{ID: "sess-1"}

			if err := store.SaveSession(ctx, session, seedLog(7)); err != nil {
				t.Fatalf("SaveSession: %v", err)
			}

			// Rolling back to the 3rd message removes it and the 4 after it.
			removed, err := store.RollbackToMessage(ctx, "sess-1", "m3")
			if err != nil {
				t.Fatalf("RollbackToMessage: %v", err)
			}
			if removed != 5 {
				t.Errorf("removed = %d, want 5", removed)
			}

			_, log, err := store.LoadSession(ctx, "sess-1")
			if err != nil {
				t.Fatalf("LoadSession: %v", err)
			}
			if len(log) != 2 {
				t.Fatalf("len(log) = %d, want 2", len(log))
			}
			if log[0].ID != "m1" || log[1].ID != "m2" {
				t.Errorf("log = [%s %s], want [m1 m2]", log[0].ID, log[1].ID)
			}
		})
	}
}

func TestStoreRollbackErrors(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			if _, err := store.RollbackToMessage(ctx, "ghost", "m1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("rollback of missing session = %v, want ErrNotFound", err)
			}

			if err := store.SaveSession(ctx, &models.Session{ID: "sess-1"}, seedLog(2)); err != nil {
				t.Fatalf("SaveSession: %v", err)
			}
			if _, err := store.RollbackToMessage(ctx, "sess-1", "missing"); !errors.Is(err, ErrMessageNotFound) {
				t.Errorf("rollback of missing message = %v, want ErrMessageNotFound", err)
			}
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			for i := 1; i <= 3; i++ {
				session := &models.Session{ID: fmt.Sprintf("sess-%d", i)}
				if err := store.SaveSession(ctx, session, nil); err != nil {
					t.Fatalf("SaveSession: %v", err)
				}
			}

			all, err := store.List(ctx, ListOptions{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 3 {
				t.Errorf("len(List) = %d, want 3", len(all))
			}

			limited, err := store.List(ctx, ListOptions{Limit: 2})
			if err != nil {
				t.Fatalf("List limited: %v", err)
			}
			if len(limited) != 2 {
				t.Errorf("len(limited) = %d, want 2", len(limited))
			}

			if err := store.Delete(ctx, "sess-2"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, _, err := store.LoadSession(ctx, "sess-2"); !errors.Is(err, ErrNotFound) {
				t.Errorf("LoadSession after delete = %v, want ErrNotFound", err)
			}
			if err := store.Delete(ctx, "sess-2"); !errors.Is(err, ErrNotFound) {
				t.Errorf("double delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSQLiteStoreUsesWAL(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestSweeperPurgesIdleSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SaveSession(ctx, &models.Session{ID: "old"}, nil); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.SaveSession(ctx, &models.Session{ID: "fresh"}, nil); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sweeper := NewSweeper(store, time.Hour, "@hourly", nil)
	sweeper.nowFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }
	// Make only "fresh" recent relative to the shifted clock.
	if err := store.SaveSession(ctx, &models.Session{ID: "fresh"}, nil); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	store.mu.Lock()
	store.sessions["fresh"].UpdatedAt = time.Now().Add(90 * time.Minute)
	store.mu.Unlock()

	if removed := sweeper.Sweep(ctx); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, _, err := store.LoadSession(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old session survived sweep: %v", err)
	}
	if _, _, err := store.LoadSession(ctx, "fresh"); err != nil {
		t.Errorf("fresh session purged: %v", err)
	}
}

func TestSweeperDisabledWithZeroTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveSession(ctx, &models.Session{ID: "s"}, nil); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sweeper := NewSweeper(store, 0, "", nil)
	if err := sweeper.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if removed := sweeper.Sweep(ctx); removed != 0 {
		t.Errorf("Sweep with zero TTL removed %d, want 0", removed)
	}
}
