// Package retrieval renders search hits and conversation excerpts as plain
// text for a generation layer.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/Kioku/internal/kioku/identity"
	"github.com/bdobrica/Kioku/internal/kioku/search"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// Default window around a hit.
const (
	DefaultBefore = 2
	DefaultAfter  = 5
)

// Excerpt limits.
const (
	excerptConversations = 3
	excerptHead          = 5
	excerptTail          = 5
	excerptMaxRunes      = 200
)

var (
	// ErrUserNotFound is returned by Excerpts when a handle has no user.
	ErrUserNotFound = errors.New("retrieval: user not found")
	// ErrNoSharedConversations is returned by Excerpts when the two users
	// never spoke in the same conversation.
	ErrNoSharedConversations = errors.New("retrieval: no shared conversations")
)

// Assembler reconstructs the neighbourhood of search hits.
type Assembler struct {
	store  *store.Store
	before int
	after  int
	logger *slog.Logger
}

// NewAssembler returns an Assembler showing before messages ahead of each
// hit and after messages behind it. Negative values select the defaults.
func NewAssembler(s *store.Store, before, after int, logger *slog.Logger) *Assembler {
	if before < 0 {
		before = DefaultBefore
	}
	if after < 0 {
		after = DefaultAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{store: s, before: before, after: after, logger: logger}
}

// Assemble renders one block per hit, in the given order, separated by a
// blank line:
//
//	Conversation date and time: 2024-05-01 10:00:00
//	Alice: previous line
//	Bob: the matching line [similarity: 0.87]
//	Alice: following line
//
// Near either end of a conversation the block simply holds fewer lines.
// Hits whose message or conversation no longer exists are left out.
func (a *Assembler) Assemble(ctx context.Context, hits []search.Result) (string, error) {
	type loaded struct {
		conv *store.Conversation
		msgs []*store.Message
	}
	cache := make(map[int64]*loaded)

	blocks := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Message == nil {
			continue
		}
		convID := hit.Message.ConversationID

		l, ok := cache[convID]
		if !ok {
			conv, err := a.store.GetConversation(ctx, convID)
			if errors.Is(err, store.ErrNotFound) {
				a.logger.Debug("hit in missing conversation", "conversation_id", convID)
				cache[convID] = nil
				continue
			}
			if err != nil {
				return "", err
			}
			msgs, err := a.store.ConversationMessages(ctx, convID)
			if err != nil {
				return "", err
			}
			l = &loaded{conv: conv, msgs: msgs}
			cache[convID] = l
		}
		if l == nil {
			continue
		}

		k := indexOf(l.msgs, hit.Message.ID)
		if k < 0 {
			a.logger.Debug("hit message not in its conversation", "message_id", hit.Message.ID)
			continue
		}
		blocks = append(blocks, a.block(l.conv, l.msgs, k, hit.Score))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (a *Assembler) block(conv *store.Conversation, msgs []*store.Message, k int, score float64) string {
	lo := max(0, k-a.before)

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation date and time: %s %s", conv.Date, conv.Time)
	for i, m := range a.Window(msgs, k) {
		b.WriteByte('\n')
		b.WriteString(line(m))
		if lo+i == k {
			fmt.Fprintf(&b, " [similarity: %.2f]", score)
		}
	}
	return b.String()
}

// Window returns the messages shown around position k of msgs.
func (a *Assembler) Window(msgs []*store.Message, k int) []*store.Message {
	if k < 0 || k >= len(msgs) {
		return nil
	}
	return msgs[max(0, k-a.before) : min(len(msgs)-1, k+a.after)+1]
}

func line(m *store.Message) string {
	return m.Speaker + ": " + m.RawText
}

func indexOf(msgs []*store.Message, id int64) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Excerpts returns style examples from the most recent conversations that
// both users (given by external handle) took part in: the first and last
// few lines of each, each line cut to 200 characters, under a
// "Conversation N" title.
func (a *Assembler) Excerpts(ctx context.Context, ownerHandle, guestHandle string) (string, error) {
	owner, err := a.userByHandle(ctx, ownerHandle)
	if err != nil {
		return "", err
	}
	guest, err := a.userByHandle(ctx, guestHandle)
	if err != nil {
		return "", err
	}

	convIDs, err := a.store.RecentSharedConversations(ctx, owner.ID, guest.ID, excerptConversations)
	if err != nil {
		return "", err
	}
	if len(convIDs) == 0 {
		return "", ErrNoSharedConversations
	}

	blocks := make([]string, 0, len(convIDs))
	for i, id := range convIDs {
		msgs, err := a.store.ConversationMessages(ctx, id)
		if err != nil {
			return "", err
		}
		lines := []string{fmt.Sprintf("Conversation %d", i+1)}
		for _, m := range headAndTail(msgs, excerptHead, excerptTail) {
			lines = append(lines, truncateRunes(m.RawText, excerptMaxRunes))
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (a *Assembler) userByHandle(ctx context.Context, handle string) (*store.User, error) {
	h, err := identity.NormalizeHandle(handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}
	u, err := a.store.UserByHandle(ctx, h)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: @%s", ErrUserNotFound, h)
	}
	return u, err
}

// headAndTail returns the first head and last tail messages without
// repeating any when they overlap.
func headAndTail(msgs []*store.Message, head, tail int) []*store.Message {
	if len(msgs) <= head+tail {
		return msgs
	}
	out := make([]*store.Message, 0, head+tail)
	out = append(out, msgs[:head]...)
	return append(out, msgs[len(msgs)-tail:]...)
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// ExtractQuery returns the retrieval query a generated reply asks for by
// enclosing it in pipes, e.g. "let me check |summer trip| first". The query
// spans from the first to the last pipe of the first line holding two of
// them. ok is false when the reply asks for nothing.
func ExtractQuery(reply string) (query string, ok bool) {
	for _, ln := range strings.Split(reply, "\n") {
		i := strings.IndexByte(ln, '|')
		j := strings.LastIndexByte(ln, '|')
		if i < 0 || j <= i+1 {
			continue
		}
		q := strings.TrimSpace(strings.Trim(ln[i+1:j], "|"))
		if q != "" {
			return q, true
		}
	}
	return "", false
}
