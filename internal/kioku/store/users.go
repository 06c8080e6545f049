package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a speaker identity.
type User struct {
	ID          int64
	DisplayName string
	// Handle is the external handle. While HandlePlaceholder is true it holds
	// a value derived from DisplayName; NULL means collection was declined.
	Handle            sql.NullString
	HandlePlaceholder bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NeedsHandle reports whether the user still waits for a real handle.
func (u *User) NeedsHandle() bool { return u.HandlePlaceholder }

const userColumns = `id, display_name, external_handle, handle_placeholder, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.DisplayName, &u.Handle, &u.HandlePlaceholder, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (q *queries) userWhere(ctx context.Context, what, where string, args ...any) (*User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", what, err)
	}
	return u, nil
}

// GetUser retrieves a user by ID.
func (q *queries) GetUser(ctx context.Context, id int64) (*User, error) {
	return q.userWhere(ctx, fmt.Sprintf("%d", id), "id = ?", id)
}

// UserByDisplayName retrieves the user recorded under a speaker label.
func (q *queries) UserByDisplayName(ctx context.Context, name string) (*User, error) {
	return q.userWhere(ctx, fmt.Sprintf("%q", name), "display_name = ?", name)
}

// UserByAlias retrieves the user a merged-away label now points to.
func (q *queries) UserByAlias(ctx context.Context, alias string) (*User, error) {
	return q.userWhere(ctx, fmt.Sprintf("alias %q", alias),
		"id = (SELECT user_id FROM user_aliases WHERE alias = ?)", alias)
}

// UserByHandle retrieves the user holding a real (non-placeholder) handle.
func (q *queries) UserByHandle(ctx context.Context, handle string) (*User, error) {
	return q.userWhere(ctx, fmt.Sprintf("handle %q", handle),
		"external_handle = ? AND handle_placeholder = 0", handle)
}

func (q *queries) listUsers(ctx context.Context, where string) ([]*User, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users `+where+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsers returns all users ordered by ID.
func (q *queries) ListUsers(ctx context.Context) ([]*User, error) {
	return q.listUsers(ctx, "")
}

// PendingHandleUsers returns users whose handle is still a placeholder.
func (q *queries) PendingHandleUsers(ctx context.Context) ([]*User, error) {
	return q.listUsers(ctx, "WHERE handle_placeholder = 1")
}

// Aliases returns the merged-away labels that resolve to userID.
func (q *queries) Aliases(ctx context.Context, userID int64) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT alias FROM user_aliases WHERE user_id = ? ORDER BY alias`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateUser inserts u and sets its ID. It fails if the display name is
// taken.
func (t *Tx) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (display_name, external_handle, handle_placeholder, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.DisplayName, u.Handle, u.HandlePlaceholder, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// InsertUserIfAbsent returns the user named displayName, inserting it with
// the given placeholder handle when no such row exists. created reports
// whether this call inserted the row.
func (t *Tx) InsertUserIfAbsent(ctx context.Context, displayName, placeholder string) (u *User, created bool, err error) {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (display_name, external_handle, handle_placeholder, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (display_name) DO NOTHING
	`, displayName, placeholder, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	u, err = t.UserByDisplayName(ctx, displayName)
	if err != nil {
		return nil, false, err
	}
	return u, n == 1, nil
}

// SetHandle replaces a user's handle. placeholder marks a derived value.
func (t *Tx) SetHandle(ctx context.Context, userID int64, handle sql.NullString, placeholder bool) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE users SET external_handle = ?, handle_placeholder = ?, updated_at = ?
		WHERE id = ?
	`, handle, placeholder, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to set handle: %w", err)
	}
	return expectOne(res, fmt.Sprintf("user %d", userID))
}

// AddAlias makes alias resolve to userID, replacing any previous target.
func (t *Tx) AddAlias(ctx context.Context, alias string, userID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_aliases (alias, user_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (alias) DO UPDATE SET user_id = excluded.user_id
	`, alias, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add alias: %w", err)
	}
	return nil
}

// MoveAliases re-points every alias of from at to.
func (t *Tx) MoveAliases(ctx context.Context, from, to int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE user_aliases SET user_id = ? WHERE user_id = ?`, to, from)
	if err != nil {
		return 0, fmt.Errorf("failed to move aliases: %w", err)
	}
	return res.RowsAffected()
}

// DeleteUser removes a user. The schema refuses while any message or
// participant row still references it.
func (t *Tx) DeleteUser(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("user %d", id))
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
