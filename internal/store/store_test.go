package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/carapace-ai/carapace/internal/model"
)

// backends returns one constructor per store implementation so every
// contract test runs against both.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
	}
}

func TestAppendAndGet(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			id, err := s.Append(ctx, AppendRequest{
				Kind:     model.KindIngestedMessage,
				Trust:    model.TrustUser,
				Content:  "hello",
				Metadata: map[string]string{"channel": "chat"},
			})
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			if id != 1 {
				t.Errorf("first event id = %d, want 1", id)
			}

			ev, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if ev.Kind != model.KindIngestedMessage || ev.Trust != model.TrustUser || ev.Content != "hello" {
				t.Errorf("unexpected event: %+v", ev)
			}
			if ev.Metadata["channel"] != "chat" {
				t.Errorf("metadata lost: %+v", ev.Metadata)
			}
			if ev.CreatedAt.IsZero() {
				t.Error("created_at not set")
			}
		})
	}
}

func TestSequenceNumbersAreDense(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			for want := model.EventID(1); want <= 5; want++ {
				id, err := s.Append(ctx, AppendRequest{Kind: model.KindIngestedMessage, Content: "x"})
				if err != nil {
					t.Fatalf("append %d: %v", want, err)
				}
				if id != want {
					t.Errorf("id = %d, want %d", id, want)
				}
			}
			n, err := s.Len(ctx)
			if err != nil {
				t.Fatalf("len: %v", err)
			}
			if n != 5 {
				t.Errorf("len = %d, want 5", n)
			}
		})
	}
}

func TestAppendRejectsUnknownSource(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			if _, err := s.Append(ctx, AppendRequest{Kind: model.KindIngestedMessage, Content: "a"}); err != nil {
				t.Fatalf("append: %v", err)
			}

			// Forward references and id 0 must be rejected with no append.
			for _, src := range []model.EventID{0, 2, 99} {
				_, err := s.Append(ctx, AppendRequest{
					Kind:    model.KindToolProposal,
					Content: "{}",
					Sources: []model.EventID{src},
				})
				if !errors.Is(err, model.ErrUnknownEvent) {
					t.Errorf("source %d: expected ErrUnknownEvent, got %v", src, err)
				}
			}

			n, err := s.Len(ctx)
			if err != nil {
				t.Fatalf("len: %v", err)
			}
			if n != 1 {
				t.Errorf("store grew on failed append: len = %d, want 1", n)
			}
		})
	}
}

func TestGetUnknownID(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			if _, err := s.Get(context.Background(), 42); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestLabelOverlay(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			id, err := s.Append(ctx, AppendRequest{Kind: model.KindToolResult, Content: "200 OK"})
			if err != nil {
				t.Fatalf("append: %v", err)
			}

			labels, err := s.Labels(ctx, id)
			if err != nil {
				t.Fatalf("labels: %v", err)
			}
			if len(labels) != 0 {
				t.Errorf("expected no overlay labels, got %v", labels)
			}

			if err := s.AddLabel(ctx, id, model.TrustExternal); err != nil {
				t.Fatalf("add label: %v", err)
			}
			// Adding the same label twice is a no-op.
			if err := s.AddLabel(ctx, id, model.TrustExternal); err != nil {
				t.Fatalf("re-add label: %v", err)
			}

			labels, err = s.Labels(ctx, id)
			if err != nil {
				t.Fatalf("labels: %v", err)
			}
			if len(labels) != 1 || labels[0] != model.TrustExternal {
				t.Errorf("labels = %v, want [EXTERNAL]", labels)
			}

			if err := s.AddLabel(ctx, 99, model.TrustUser); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("label on missing event: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestConcurrentAppendsAssignUniqueIDs(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			const n = 64
			ids := make(chan model.EventID, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					id, err := s.Append(ctx, AppendRequest{Kind: model.KindIngestedMessage, Content: "c"})
					if err != nil {
						t.Errorf("append: %v", err)
						return
					}
					ids <- id
				}()
			}
			wg.Wait()
			close(ids)

			seen := make(map[model.EventID]bool)
			for id := range ids {
				if seen[id] {
					t.Fatalf("duplicate event id %d", id)
				}
				seen[id] = true
			}
			if len(seen) != n {
				t.Errorf("got %d unique ids, want %d", len(seen), n)
			}
		})
	}
}

func TestSQLiteReopenRecoversTail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Append(ctx, AppendRequest{Kind: model.KindIngestedMessage, Trust: model.TrustSystem, Content: "boot"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, AppendRequest{Kind: model.KindToolProposal, Content: "{}", Sources: []model.EventID{1}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	id, err := s2.Append(ctx, AppendRequest{Kind: model.KindToolResult, Content: "ok", Sources: []model.EventID{2}})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if id != 3 {
		t.Errorf("id after reopen = %d, want 3", id)
	}

	ev, err := s2.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if ev.Trust != model.TrustSystem || ev.Content != "boot" {
		t.Errorf("event 1 not preserved: %+v", ev)
	}
}
