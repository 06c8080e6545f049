// Package identity maps transcript speaker labels to persistent users and
// merges two users when a handle assignment reveals they are the same
// person.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// PlaceholderPrefix prefixes the handle given to users whose real handle is
// not known yet.
const PlaceholderPrefix = "unknown_"

var (
	// ErrEmptyHandle is returned when a handle is blank after trimming.
	ErrEmptyHandle = errors.New("identity: empty handle")
	// ErrEmptyName is returned when a speaker label is blank.
	ErrEmptyName = errors.New("identity: empty display name")
)

// PlaceholderHandle derives the placeholder handle for displayName.
func PlaceholderHandle(displayName string) string {
	return PlaceholderPrefix + displayName
}

// NormalizeHandle trims h and strips one leading '@'.
func NormalizeHandle(h string) (string, error) {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, "@")
	h = strings.TrimSpace(h)
	if h == "" {
		return "", ErrEmptyHandle
	}
	return h, nil
}

// Resolver resolves and merges user identities.
type Resolver struct {
	store  *store.Store
	logger *slog.Logger
}

// NewResolver returns a Resolver over s.
func NewResolver(s *store.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: s, logger: logger}
}

// ResolveOrCreate returns the user for displayName inside tx, looking first
// at display names, then at labels absorbed by earlier merges. An unknown
// label creates a user with a placeholder handle. created reports whether a
// user was inserted.
func (r *Resolver) ResolveOrCreate(ctx context.Context, tx *store.Tx, displayName string) (u *store.User, created bool, err error) {
	if strings.TrimSpace(displayName) == "" {
		return nil, false, ErrEmptyName
	}

	u, err = tx.UserByDisplayName(ctx, displayName)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	u, err = tx.UserByAlias(ctx, displayName)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	u, created, err = tx.InsertUserIfAbsent(ctx, displayName, PlaceholderHandle(displayName))
	if err != nil {
		return nil, false, fmt.Errorf("create user %q: %w", displayName, err)
	}
	return u, created, nil
}

// AssignResult describes the outcome of AssignHandle.
type AssignResult struct {
	// SurvivorID holds the handle afterwards.
	SurvivorID int64
	// Merged is true when the user was absorbed into an existing holder
	// of the handle.
	Merged     bool
	AbsorbedID int64
	// MovedMessages and MovedConversations count rows rewritten by a merge.
	MovedMessages      int64
	MovedConversations int64
}

// AssignHandle gives userID the external handle. When another user already
// holds it, userID is merged into that user: its messages and conversation
// memberships move to the holder, its label becomes an alias of the holder,
// and it is deleted. Everything happens in one transaction.
func (r *Resolver) AssignHandle(ctx context.Context, userID int64, handle string) (AssignResult, error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return AssignResult{}, err
	}

	var res AssignResult
	err = r.store.InTx(ctx, func(tx *store.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		holder, err := tx.UserByHandle(ctx, h)
		switch {
		case errors.Is(err, store.ErrNotFound):
			res = AssignResult{SurvivorID: user.ID}
			return tx.SetHandle(ctx, user.ID, sql.NullString{String: h, Valid: true}, false)
		case err != nil:
			return err
		case holder.ID == user.ID:
			res = AssignResult{SurvivorID: user.ID}
			return nil
		}

		res, err = merge(ctx, tx, user, holder)
		return err
	})
	if err != nil {
		return AssignResult{}, fmt.Errorf("assign handle %q to user %d: %w", h, userID, err)
	}

	if res.Merged {
		metrics.Merges.Inc()
		r.logger.Info("merged users on handle collision",
			"handle", h,
			"absorbed_id", res.AbsorbedID,
			"survivor_id", res.SurvivorID,
			"messages", res.MovedMessages,
			"conversations", res.MovedConversations)
	} else {
		r.logger.Debug("assigned handle", "user_id", userID, "handle", h)
	}
	return res, nil
}

// merge folds loser into survivor.
func merge(ctx context.Context, tx *store.Tx, loser, survivor *store.User) (AssignResult, error) {
	moved, err := tx.ReplaceParticipant(ctx, loser.ID, survivor.ID)
	if err != nil {
		return AssignResult{}, err
	}
	if _, err := tx.MoveAliases(ctx, loser.ID, survivor.ID); err != nil {
		return AssignResult{}, err
	}
	if err := tx.AddAlias(ctx, loser.DisplayName, survivor.ID); err != nil {
		return AssignResult{}, err
	}
	if err := tx.DeleteUser(ctx, loser.ID); err != nil {
		return AssignResult{}, err
	}
	return AssignResult{
		SurvivorID:         survivor.ID,
		Merged:             true,
		AbsorbedID:         loser.ID,
		MovedMessages:      moved.Messages,
		MovedConversations: moved.Conversations,
	}, nil
}

// DeclineHandle records that no handle will be collected for userID. The
// user keeps a NULL handle and leaves the pending list.
func (r *Resolver) DeclineHandle(ctx context.Context, userID int64) error {
	err := r.store.InTx(ctx, func(tx *store.Tx) error {
		return tx.SetHandle(ctx, userID, sql.NullString{}, false)
	})
	if err != nil {
		return fmt.Errorf("decline handle for user %d: %w", userID, err)
	}
	return nil
}

// Register creates a user that is known ahead of any transcript, with its
// real handle already set. It fails when the display name or the handle is
// taken.
func (r *Resolver) Register(ctx context.Context, displayName, handle string) (*store.User, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil, ErrEmptyName
	}
	h, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}

	u := &store.User{DisplayName: name, Handle: sql.NullString{String: h, Valid: true}}
	if err := r.store.InTx(ctx, func(tx *store.Tx) error { return tx.CreateUser(ctx, u) }); err != nil {
		return nil, fmt.Errorf("register %q as %s: %w", name, h, err)
	}
	r.logger.Debug("registered user", "user_id", u.ID, "handle", h)
	return u, nil
}

// Aliases lists the labels merged into userID.
func (r *Resolver) Aliases(ctx context.Context, userID int64) ([]string, error) {
	return r.store.Aliases(ctx, userID)
}

// PendingHandles lists users whose handle is still a placeholder.
func (r *Resolver) PendingHandles(ctx context.Context) ([]*store.User, error) {
	return r.store.PendingHandleUsers(ctx)
}
