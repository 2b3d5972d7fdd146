package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors for user operations.
var (
	ErrUserDuplicate = errors.New("user already exists")
	ErrUserNotFound  = errors.New("user not found")
	ErrOwnerDeletion = errors.New("account owner cannot be deleted")
)

var userColumns = []string{
	"id", "account_id", "email", "display_name", "role",
	"ebay_token", "ebay_client_id", "ebay_client_secret",
	"ebay_oauth_access_token", "ebay_oauth_refresh_token",
	"ebay_oauth_token_expiry", "ebay_oauth_username",
	"created_at", "updated_at",
}

func selectUserColumns(alias string) string {
	cols := make([]string, len(userColumns))
	for i, c := range userColumns {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// userScan holds nullable destinations for one users row.
type userScan struct {
	id, accountID, email, displayName, role sql.NullString
	token, clientID, clientSecret           sql.NullString
	access, refresh                         sql.NullString
	expiry                                  sql.NullTime
	username                                sql.NullString
	createdAt, updatedAt                    sql.NullTime
}

func (us *userScan) dest() []any {
	return []any{
		&us.id, &us.accountID, &us.email, &us.displayName, &us.role,
		&us.token, &us.clientID, &us.clientSecret,
		&us.access, &us.refresh,
		&us.expiry, &us.username,
		&us.createdAt, &us.updatedAt,
	}
}

// user returns nil when the row was absent (outer join miss).
func (us *userScan) user() *User {
	if !us.id.Valid {
		return nil
	}
	u := &User{
		ID:                us.id.String,
		AccountID:         us.accountID.String,
		Email:             us.email.String,
		DisplayName:       us.displayName.String,
		Role:              us.role.String,
		EbayToken:         us.token.String,
		EbayClientID:      us.clientID.String,
		EbayClientSecret:  us.clientSecret.String,
		OAuthAccessToken:  us.access.String,
		OAuthRefreshToken: us.refresh.String,
		OAuthUsername:     us.username.String,
		CreatedAt:         us.createdAt.Time,
		UpdatedAt:         us.updatedAt.Time,
	}
	if us.expiry.Valid {
		t := us.expiry.Time.UTC()
		u.OAuthTokenExpiry = &t
	}
	return u
}

// CreateUser inserts a user. Credential fields are never written here.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, account_id, email, display_name, role)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.AccountID, u.Email, u.DisplayName, u.Role,
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) {
			switch sqliteErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				return ErrUserDuplicate
			}
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id. Returns nil, nil when absent.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var us userScan
	err := s.db.QueryRowContext(ctx,
		`SELECT `+selectUserColumns("u")+` FROM users u WHERE u.id = ?`, id,
	).Scan(us.dest()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return us.user(), nil
}

// GetUserWithOwner reads a user and the owner row of its account in one
// query. Returns ErrUserNotFound when the user is absent; owner is nil when
// the account has no owner row.
func (s *Store) GetUserWithOwner(ctx context.Context, id string) (user, owner *User, err error) {
	var us, ous userScan
	err = s.db.QueryRowContext(ctx,
		`SELECT `+selectUserColumns("u")+`, `+selectUserColumns("o")+`
		 FROM users u LEFT JOIN users o ON o.id = u.account_id
		 WHERE u.id = ?`, id,
	).Scan(append(us.dest(), ous.dest()...)...)
	if err == sql.ErrNoRows {
		return nil, nil, ErrUserNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get user with owner: %w", err)
	}
	return us.user(), ous.user(), nil
}

// ListAccountUsers returns all users of an account, owner first.
func (s *Store) ListAccountUsers(ctx context.Context, accountID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectUserColumns("u")+` FROM users u
		 WHERE u.account_id = ?
		 ORDER BY (u.id = u.account_id) DESC, u.created_at, u.id`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list account users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var us userScan
		if err := rows.Scan(us.dest()...); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *us.user())
	}
	return users, rows.Err()
}

// CountAdmins returns the number of admins in an account.
func (s *Store) CountAdmins(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE account_id = ? AND role = 'admin'`, accountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

// UpdateUserRole sets a user's role. Returns true if a row was updated.
func (s *Store) UpdateUserRole(ctx context.Context, id, role string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		role, id,
	)
	if err != nil {
		return false, fmt.Errorf("update user role: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateDisplayName sets a user's display name. Returns true if a row was updated.
func (s *Store) UpdateDisplayName(ctx context.Context, id, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, id,
	)
	if err != nil {
		return false, fmt.Errorf("update display name: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteUser deletes a sub-user and all of its sessions in one transaction.
// Owners cannot be deleted this way. Returns true if the user existed.
func (s *Store) DeleteUser(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var accountID string
	err = tx.QueryRowContext(ctx, `SELECT account_id FROM users WHERE id = ?`, id).Scan(&accountID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get user: %w", err)
	}
	if accountID == id {
		return false, ErrOwnerDeletion
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete sessions for user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// UpdateManualCredentials applies a partial update of the manual key triplet
// to an owner row. Values must already be vault tokens; "" stores NULL.
// Returns true if the owner row exists.
func (s *Store) UpdateManualCredentials(ctx context.Context, ownerID string, upd ManualCredentialsUpdate) (bool, error) {
	if upd.IsEmpty() {
		return false, nil
	}

	var (
		sets []string
		args []any
	)
	if upd.EbayToken != nil {
		sets = append(sets, "ebay_token = ?")
		args = append(args, nullable(*upd.EbayToken))
	}
	if upd.EbayClientID != nil {
		sets = append(sets, "ebay_client_id = ?")
		args = append(args, nullable(*upd.EbayClientID))
	}
	if upd.EbayClientSecret != nil {
		sets = append(sets, "ebay_client_secret = ?")
		args = append(args, nullable(*upd.EbayClientSecret))
	}
	args = append(args, ownerID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+`, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND id = account_id`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("update manual credentials: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// OAuthTokens is the encrypted OAuth credential set written on connect or refresh.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string // "" keeps the stored refresh token
	Expiry       time.Time
	Username     string
}

// SetOwnerOAuthTokens writes a freshly issued token set onto an owner row in
// a single statement. An empty RefreshToken leaves the stored one in place.
func (s *Store) SetOwnerOAuthTokens(ctx context.Context, ownerID string, t OAuthTokens) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET
		   ebay_oauth_access_token = ?,
		   ebay_oauth_refresh_token = COALESCE(?, ebay_oauth_refresh_token),
		   ebay_oauth_token_expiry = ?,
		   ebay_oauth_username = ?,
		   updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND id = account_id`,
		t.AccessToken, nullable(t.RefreshToken), t.Expiry.UTC(), nullable(t.Username), ownerID,
	)
	if err != nil {
		return fmt.Errorf("set owner oauth tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateOwnerAccessToken persists a refreshed access token and expiry. A
// non-empty refreshToken replaces the stored one (rotation).
func (s *Store) UpdateOwnerAccessToken(ctx context.Context, ownerID, accessToken string, expiry time.Time, refreshToken string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET
		   ebay_oauth_access_token = ?,
		   ebay_oauth_token_expiry = ?,
		   ebay_oauth_refresh_token = COALESCE(?, ebay_oauth_refresh_token),
		   updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND id = account_id`,
		accessToken, expiry.UTC(), nullable(refreshToken), ownerID,
	)
	if err != nil {
		return fmt.Errorf("update owner access token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ClearOwnerOAuth nulls all four OAuth columns of an owner row at once.
// Returns true if the owner row exists.
func (s *Store) ClearOwnerOAuth(ctx context.Context, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET
		   ebay_oauth_access_token = NULL,
		   ebay_oauth_refresh_token = NULL,
		   ebay_oauth_token_expiry = NULL,
		   ebay_oauth_username = NULL,
		   updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND id = account_id`,
		ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("clear owner oauth: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
