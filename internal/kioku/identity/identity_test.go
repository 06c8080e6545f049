package identity_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/identity"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// conversation creates a conversation in which each speaker says one line.
func conversation(t *testing.T, s *store.Store, r *identity.Resolver, speakers ...string) (int64, map[string]int64) {
	t.Helper()
	ctx := context.Background()
	ids := map[string]int64{}
	var convID int64
	err := s.InTx(ctx, func(tx *store.Tx) error {
		c := &store.Conversation{Date: "2024-03-01", Time: "12:00:00"}
		if err := tx.CreateConversation(ctx, c); err != nil {
			return err
		}
		convID = c.ID
		for i, name := range speakers {
			u, _, err := r.ResolveOrCreate(ctx, tx, name)
			if err != nil {
				return err
			}
			ids[name] = u.ID
			if err := tx.AddParticipant(ctx, c.ID, u.ID); err != nil {
				return err
			}
			m := &store.Message{ConversationID: c.ID, UserID: u.ID, RawText: name + " says hi", Date: c.Date, Time: "12:00:0" + string(rune('0'+i))}
			if err := tx.InsertMessage(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	return convID, ids
}

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"alice", "alice", false},
		{"  @alice ", "alice", false},
		{"@", "", true},
		{"   ", "", true},
	}
	for _, tt := range tests {
		got, err := identity.NormalizeHandle(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeHandle(%q) err = %v", tt.in, err)
			continue
		}
		if tt.wantErr && !errors.Is(err, identity.ErrEmptyHandle) {
			t.Errorf("NormalizeHandle(%q) err = %v, want ErrEmptyHandle", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("NormalizeHandle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveOrCreate_ReusesUsers(t *testing.T) {
	s := newTestStore(t)
	r := identity.NewResolver(s, nil)

	_, first := conversation(t, s, r, "Alice", "Bob")
	_, second := conversation(t, s, r, "Bob", "Carol")

	if first["Bob"] != second["Bob"] {
		t.Errorf("Bob resolved to %d then %d", first["Bob"], second["Bob"])
	}
	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 3 {
		t.Errorf("got %d users, want 3", len(users))
	}
	for _, u := range users {
		if !u.NeedsHandle() || u.Handle.String != identity.PlaceholderHandle(u.DisplayName) {
			t.Errorf("user %q handle = %+v, want placeholder", u.DisplayName, u.Handle)
		}
	}
}

func TestResolveOrCreate_EmptyName(t *testing.T) {
	s := newTestStore(t)
	r := identity.NewResolver(s, nil)
	ctx := context.Background()
	err := s.InTx(ctx, func(tx *store.Tx) error {
		_, _, err := r.ResolveOrCreate(ctx, tx, "  ")
		return err
	})
	if !errors.Is(err, identity.ErrEmptyName) {
		t.Fatalf("err = %v, want ErrEmptyName", err)
	}
}

func TestAssignHandle_Direct(t *testing.T) {
	s := newTestStore(t)
	r := identity.NewResolver(s, nil)
	ctx := context.Background()
	_, ids := conversation(t, s, r, "Alice")

	res, err := r.AssignHandle(ctx, ids["Alice"], "@alice")
	if err != nil {
		t.Fatalf("AssignHandle: %v", err)
	}
	if res.Merged || res.SurvivorID != ids["Alice"] {
		t.Errorf("result = %+v", res)
	}
	u, err := s.GetUser(ctx, ids["Alice"])
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.NeedsHandle() || u.Handle.String != "alice" {
		t.Errorf("user = %+v", u)
	}

	// Re-assigning the same handle is a no-op.
	res, err = r.AssignHandle(ctx, ids["Alice"], "alice")
	if err != nil || res.Merged {
		t.Errorf("reassign = %+v, %v", res, err)
	}

	pending, _ := r.PendingHandles(ctx)
	if len(pending) != 0 {
		t.Errorf("pending = %v, want none", pending)
	}
}

func TestAssignHandle_MergeMovesEverything(t *testing.T) {
	s := newTestStore(t)
	r := identity.NewResolver(s, nil)
	ctx := context.Background()

	convShared, ids := conversation(t, s, r, "Alice", "alice_alt")
	convAltOnly, _ := conversation(t, s, r, "alice_alt", "Bob")

	if _, err := r.AssignHandle(ctx, ids["Alice"], "alice"); err != nil {
		t.Fatalf("AssignHandle Alice: %v", err)
	}
	res, err := r.AssignHandle(ctx, ids["alice_alt"], "alice")
	if err != nil {
		t.Fatalf("AssignHandle alt: %v", err)
	}
	if !res.Merged || res.SurvivorID != ids["Alice"] || res.AbsorbedID != ids["alice_alt"] {
		t.Fatalf("result = %+v", res)
	}
	if res.MovedMessages != 2 || res.MovedConversations != 2 {
		t.Errorf("moved = %d messages %d conversations, want 2/2", res.MovedMessages, res.MovedConversations)
	}

	absorbed := ids["alice_alt"]
	if _, err := s.GetUser(ctx, absorbed); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("absorbed user still present: %v", err)
	}
	if n, _ := s.CountMessagesByUser(ctx, absorbed); n != 0 {
		t.Errorf("%d messages still reference the absorbed user", n)
	}
	for _, conv := range []int64{convShared, convAltOnly} {
		p, err := s.Participants(ctx, conv)
		if err != nil {
			t.Fatalf("Participants: %v", err)
		}
		seen := map[int64]int{}
		for _, id := range p {
			if id == absorbed {
				t.Errorf("conversation %d still lists absorbed user", conv)
			}
			seen[id]++
			if seen[id] > 1 {
				t.Errorf("conversation %d lists user %d twice", conv, id)
			}
		}
		if seen[ids["Alice"]] != 1 {
			t.Errorf("conversation %d participants = %v, want Alice present", conv, p)
		}
	}

	survivor, _ := s.GetUser(ctx, ids["Alice"])
	if survivor.Handle.String != "alice" {
		t.Errorf("survivor handle = %q", survivor.Handle.String)
	}

	if aliases, err := r.Aliases(ctx, ids["Alice"]); err != nil || len(aliases) != 1 || aliases[0] != "alice_alt" {
		t.Errorf("Aliases(survivor) = %v, %v; want [alice_alt]", aliases, err)
	}

	// A later transcript naming the absorbed label resolves to the survivor.
	_, later := conversation(t, s, r, "alice_alt")
	if later["alice_alt"] != ids["Alice"] {
		t.Errorf("absorbed label resolved to %d, want %d", later["alice_alt"], ids["Alice"])
	}
}

func TestAssignHandle_Errors(t *testing.T) {
	s := newTestStore(t)
	r := identity.NewResolver(s, nil)
	ctx := context.Background()

	if _, err := r.AssignHandle(ctx, 1, " @ "); !errors.Is(err, identity.ErrEmptyHandle) {
		t.Errorf("err = %v, want ErrEmptyHandle", err)
	}
	if _, err := r.AssignHandle(ctx, 999, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeclineHandle(t *testing.T) {
	s := newTestStore(t)
	r := identity.NewResolver(s, nil)
	ctx := context.Background()
	_, ids := conversation(t, s, r, "Alice", "Bob")

	if err := r.DeclineHandle(ctx, ids["Bob"]); err != nil {
		t.Fatalf("DeclineHandle: %v", err)
	}
	pending, err := r.PendingHandles(ctx)
	if err != nil {
		t.Fatalf("PendingHandles: %v", err)
	}
	if len(pending) != 1 || pending[0].DisplayName != "Alice" {
		t.Errorf("pending = %+v, want only Alice", pending)
	}
	bob, _ := s.GetUser(ctx, ids["Bob"])
	if bob.Handle.Valid {
		t.Errorf("declined handle = %+v, want NULL", bob.Handle)
	}
}

func TestRegister(t *testing.T) {
	s := newTestStore(t)
	r := identity.NewResolver(s, nil)
	ctx := context.Background()

	u, err := r.Register(ctx, " Carol ", "@carol")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.DisplayName != "Carol" || u.Handle.String != "carol" || u.NeedsHandle() {
		t.Errorf("registered = %+v", u)
	}

	// A transcript naming Carol reuses the registered user and asks nothing.
	_, got := conversation(t, s, r, "Carol")
	if got["Carol"] != u.ID {
		t.Errorf("Carol resolved to %d, want %d", got["Carol"], u.ID)
	}
	if pending, _ := r.PendingHandles(ctx); len(pending) != 0 {
		t.Errorf("pending = %v, want none", pending)
	}

	if _, err := r.Register(ctx, "Carla", "carol"); err == nil {
		t.Error("registering a taken handle succeeded")
	}
	if _, err := r.Register(ctx, "  ", "x"); !errors.Is(err, identity.ErrEmptyName) {
		t.Errorf("blank name err = %v", err)
	}
	if _, err := r.Register(ctx, "Dan", "@"); !errors.Is(err, identity.ErrEmptyHandle) {
		t.Errorf("blank handle err = %v", err)
	}
}
