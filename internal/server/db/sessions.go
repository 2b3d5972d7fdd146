package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, role, account_id, oauth_state, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Role, sess.AccountID, nullable(sess.OAuthState),
		sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id. Returns nil, nil when absent.
// Expiry is not checked here.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var (
		sess                 Session
		state                sql.NullString
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, role, account_id, oauth_state, created_at, expires_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.Role, &sess.AccountID, &state, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.OAuthState = state.String
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &sess, nil
}

// UpdateSessionIdentity overwrites the cached role and account id of a session.
func (s *Store) UpdateSessionIdentity(ctx context.Context, id, role, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET role = ?, account_id = ? WHERE id = ?`,
		role, accountID, id,
	)
	if err != nil {
		return fmt.Errorf("update session identity: %w", err)
	}
	return nil
}

// SetOAuthState stores the pending OAuth state nonce, replacing any previous one.
func (s *Store) SetOAuthState(ctx context.Context, id, state string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET oauth_state = ? WHERE id = ?`,
		nullable(state), id,
	)
	if err != nil {
		return fmt.Errorf("set oauth state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set oauth state: session %s not found", id)
	}
	return nil
}

// TakeOAuthState clears the pending OAuth state of a session and returns the
// value it held. Of two concurrent callers only one receives the value; the
// other gets "".
func (s *Store) TakeOAuthState(ctx context.Context, id string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var state sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT oauth_state FROM sessions WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read oauth state: %w", err)
	}
	if !state.Valid {
		return "", nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET oauth_state = NULL WHERE id = ? AND oauth_state = ?`,
		id, state.String,
	)
	if err != nil {
		return "", fmt.Errorf("clear oauth state: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	if n == 0 {
		return "", nil
	}
	return state.String, nil
}

// DeleteSession deletes a session. Deleting an absent session is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions deletes every session of a user and returns how many
// were removed.
func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeExpiredSessions deletes sessions that expired before now.
func (s *Store) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
