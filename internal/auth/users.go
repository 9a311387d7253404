package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound        = errors.New("auth: user not found")
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrUserDisabled        = errors.New("auth: user disabled")
	ErrUsernameAlreadyUsed = errors.New("auth: username already exists")
)

// UserAccount is a control plane user scoped to a single tenant.
type UserAccount struct {
	ID           string
	TenantID     string
	Username     string
	DisplayName  string
	PasswordHash string
	Role         Role
	Enabled      bool
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// UserStore manages tenant-scoped user accounts backed by database/sql. It
// is independent of Manager: Manager issues/validates bearer tokens,
// UserStore resolves the username/password pair a login endpoint exchanges
// for one.
type UserStore struct {
	db       *sql.DB
	tenantID string
}

// NewUserStore wraps db for tenantID. Schema must already exist — call
// MigrateUsers once per process against a shared pool, mirroring how
// repository.Store separates migration from per-tenant binding.
func NewUserStore(db *sql.DB, tenantID string) *UserStore {
	return &UserStore{db: db, tenantID: tenantID}
}

// WithTenant returns a UserStore bound to a different tenant over the same
// connection pool.
func (s *UserStore) WithTenant(tenantID string) *UserStore {
	clone := *s
	clone.tenantID = tenantID
	return &clone
}

// MigrateUsers creates the users table if it does not already exist.
func MigrateUsers(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS users (
		id            TEXT NOT NULL,
		tenant_id     TEXT NOT NULL,
		username      TEXT NOT NULL,
		display_name  TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL CHECK (role IN ('admin', 'operator', 'viewer')),
		enabled       INTEGER NOT NULL DEFAULT 1,
		created_at    TEXT NOT NULL,
		last_login    TEXT,
		PRIMARY KEY (tenant_id, id),
		UNIQUE (tenant_id, username)
	)`)
	if err != nil {
		return fmt.Errorf("auth: create users table: %w", err)
	}
	return nil
}

// Create adds a new user under the store's tenant with a generated ID and
// bcrypt-hashed password. role must be admin, operator, or viewer — service
// identities are never created as interactive users.
func (s *UserStore) Create(ctx context.Context, username, displayName, password string, role Role) (*UserAccount, error) {
	if role != RoleAdmin && role != RoleOperator && role != RoleViewer {
		return nil, fmt.Errorf("auth: invalid user role %q", role)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("auth: username required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	u := &UserAccount{
		ID:           uuid.NewString(),
		TenantID:     s.tenantID,
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO users
		(id, tenant_id, username, display_name, password_hash, role, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		u.ID, u.TenantID, u.Username, u.DisplayName, u.PasswordHash, string(u.Role), u.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrUsernameAlreadyUsed
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return u, nil
}

// GetByUsername fetches a user scoped to the store's tenant.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, username, display_name, password_hash, role, enabled, created_at, last_login
		FROM users WHERE tenant_id = ? AND username = ?`, s.tenantID, username)
	return scanUser(row)
}

// Authenticate verifies username/password for the store's tenant and
// records the login time. A missing username and a wrong password both
// yield ErrInvalidCredentials, so callers cannot tell those two apart; a
// disabled account yields ErrUserDisabled.
func (s *UserStore) Authenticate(ctx context.Context, username, password string) (*UserAccount, error) {
	u, err := s.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.Enabled {
		return nil, ErrUserDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE tenant_id = ? AND id = ?`,
		now.Format(time.RFC3339Nano), s.tenantID, u.ID); err != nil {
		return nil, fmt.Errorf("auth: update last_login: %w", err)
	}
	u.LastLogin = &now
	return u, nil
}

// SetEnabled enables or disables a user account.
func (s *UserStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET enabled = ? WHERE tenant_id = ? AND id = ?`, enabledInt, s.tenantID, id)
	if err != nil {
		return fmt.Errorf("auth: set enabled: %w", err)
	}
	return checkRowsAffected(res)
}

// ActiveSeatCount returns the number of enabled users under the store's
// tenant. This satisfies the seat-counting half of quota.UsageReader.
func (s *UserStore) ActiveSeatCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = ? AND enabled = 1`, s.tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("auth: count active seats: %w", err)
	}
	return count, nil
}

func scanUser(row *sql.Row) (*UserAccount, error) {
	var (
		u                    UserAccount
		role                 string
		enabled              int
		createdAt, lastLogin sql.NullString
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.DisplayName, &u.PasswordHash, &role, &enabled, &createdAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth: scan user: %w", err)
	}
	u.Role = Role(role)
	u.Enabled = enabled == 1
	if createdAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, createdAt.String)
		if err != nil {
			return nil, fmt.Errorf("auth: parse created_at: %w", err)
		}
		u.CreatedAt = t
	}
	if lastLogin.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastLogin.String)
		if err != nil {
			return nil, fmt.Errorf("auth: parse last_login: %w", err)
		}
		u.LastLogin = &t
	}
	return &u, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
