// Package postgres implements the portalauth storage collaborator on
// PostgreSQL through database/sql and the pgx stdlib driver.
//
// Conditional operations (email verification, reset-token consumption,
// invitation acceptance, ownership transfer) are expressed as UPDATE ...
// WHERE <precondition> statements and judged by rows affected, so two racing
// callers cannot both win.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/store/postgres/migrations"
)

const uniqueViolation = "23505"

// DBTX is the subset of database/sql used by the store. Both *sql.DB and
// *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a portalauth.Store backed by PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ portalauth.Store = (*Store)(nil)

// New wraps an open database handle. It does not run migrations.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects with the pgx driver, verifies the connection and applies
// pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeError(err)
	}
	return nil
}

const userColumns = `id, email, password_hash, first_name, last_name, role, permission_level, company_id,
	active, email_verified, email_verified_at, verification_code_hash, verification_expires_at,
	reset_token_hash, reset_expires_at, two_factor_secret, two_factor_enabled, two_factor_last_counter,
	created_at, updated_at`

const insertUser = `INSERT INTO users (` + userColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

func (s *Store) CreateUser(ctx context.Context, u *portalauth.User) error {
	_, err := s.db.ExecContext(ctx, insertUser, userArgs(u)...)
	if err != nil {
		if isUniqueViolation(err) {
			return portalauth.ErrDuplicateEmail
		}
		return storeError(err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*portalauth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*portalauth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch portalauth.UserPatch) error {
	query, args := buildUserUpdate(id, patch, s.now())
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeError(err)
	}
	return requireRow(res, portalauth.ErrNotFound)
}

// buildUserUpdate renders one UPDATE writing only the fields set in patch.
// updated_at is always written so the statement is never empty.
func buildUserUpdate(id string, patch portalauth.UserPatch, at time.Time) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if patch.FirstName != nil {
		add("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		add("last_name", *patch.LastName)
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if patch.Role != nil {
		add("role", string(*patch.Role))
	}
	if patch.Level != nil {
		add("permission_level", string(*patch.Level))
	}
	if patch.CompanyID != nil {
		add("company_id", *patch.CompanyID)
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	if patch.VerificationCodeHash != nil {
		add("verification_code_hash", *patch.VerificationCodeHash)
	}
	if patch.VerificationExpiresAt != nil {
		add("verification_expires_at", nullTime(*patch.VerificationExpiresAt))
	}
	if patch.ResetTokenHash != nil {
		add("reset_token_hash", *patch.ResetTokenHash)
	}
	if patch.ResetExpiresAt != nil {
		add("reset_expires_at", nullTime(*patch.ResetExpiresAt))
	}
	add("updated_at", at)

	args = append(args, id)
	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = $" + strconv.Itoa(len(args))
	return query, args
}

func (s *Store) MarkEmailVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = TRUE, email_verified_at = $2,
			verification_code_hash = '', verification_expires_at = NULL, updated_at = $2
		 WHERE id = $1 AND NOT email_verified`,
		id, at)
	if err != nil {
		return false, storeError(err)
	}
	return s.conditionalResult(ctx, s.db, res, existsUser, id)
}

func (s *Store) ConsumeResetToken(ctx context.Context, id, tokenHash, passwordHash string, at time.Time) (bool, error) {
	if tokenHash == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $3, reset_token_hash = '', reset_expires_at = NULL, updated_at = $4
		 WHERE id = $1 AND reset_token_hash = $2`,
		id, tokenHash, passwordHash, at)
	if err != nil {
		return false, storeError(err)
	}
	return s.conditionalResult(ctx, s.db, res, existsUser, id)
}

func (s *Store) SetTwoFactor(ctx context.Context, id, sealedSecret string, enabled bool, lastCounter int64) error {
	if !enabled {
		sealedSecret = ""
		lastCounter = 0
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET two_factor_secret = $2, two_factor_enabled = $3, two_factor_last_counter = $4, updated_at = $5
		 WHERE id = $1`,
		id, sealedSecret, enabled, lastCounter, s.now())
	if err != nil {
		return storeError(err)
	}
	return requireRow(res, portalauth.ErrNotFound)
}

func (s *Store) AdvanceTwoFactorCounter(ctx context.Context, id string, counter int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET two_factor_last_counter = $2, updated_at = $3
		 WHERE id = $1 AND two_factor_enabled AND two_factor_last_counter < $2`,
		id, counter, s.now())
	if err != nil {
		return false, storeError(err)
	}
	return s.conditionalResult(ctx, s.db, res, existsUser, id)
}

func (s *Store) TransferOwnership(ctx context.Context, plan permission.TransferPlan, at time.Time) error {
	former, next := plan.FormerOwner, plan.NewOwner
	return s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET role = $2, permission_level = $3, updated_at = $4
			 WHERE id = $1 AND role = $5 AND active AND company_id = $6`,
			former.ID, string(former.Role), string(former.Level), at, string(plan.OwnerRole), next.GroupID)
		if err != nil {
			return storeError(err)
		}
		if err := requireRow(res, portalauth.ErrNotAuthorized); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE users SET role = $2, permission_level = $3, updated_at = $4
			 WHERE id = $1 AND role = $5 AND active AND company_id = $6`,
			next.ID, string(next.Role), string(next.Level), at, string(plan.TargetRole), next.GroupID)
		if err != nil {
			return storeError(err)
		}
		return requireRow(res, portalauth.ErrInvalidTarget)
	})
}

const invitationColumns = `id, email, role, permission_level, company_id, invited_by, token_hash,
	status, expires_at, created_at, accepted_at`

func (s *Store) CreateInvitation(ctx context.Context, inv *portalauth.Invitation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invitations (`+invitationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inv.ID, inv.Email, string(inv.Role), string(inv.Level), inv.CompanyID, inv.InvitedBy,
		inv.TokenHash, string(inv.Status), inv.ExpiresAt, inv.CreatedAt, nullTimePtr(inv.AcceptedAt))
	if err != nil {
		return storeError(err)
	}
	return nil
}

func (s *Store) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*portalauth.Invitation, error) {
	var (
		inv        portalauth.Invitation
		role       string
		level      string
		status     string
		acceptedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1`, tokenHash).
		Scan(&inv.ID, &inv.Email, &role, &level, &inv.CompanyID, &inv.InvitedBy, &inv.TokenHash,
			&status, &inv.ExpiresAt, &inv.CreatedAt, &acceptedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, portalauth.ErrNotFound
		}
		return nil, storeError(err)
	}
	inv.Role = permission.Role(role)
	inv.Level = permission.Level(level)
	inv.Status = portalauth.InvitationStatus(status)
	inv.AcceptedAt = timePtr(acceptedAt)
	return &inv, nil
}

func (s *Store) ExpireInvitation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET status = CASE WHEN status = 'pending' THEN 'expired' ELSE status END
		 WHERE id = $1`, id)
	if err != nil {
		return storeError(err)
	}
	return requireRow(res, portalauth.ErrNotFound)
}

func (s *Store) AcceptInvitation(ctx context.Context, invitationID string, u *portalauth.User, at time.Time) error {
	return s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE invitations SET status = 'accepted', accepted_at = $2
			 WHERE id = $1 AND status = 'pending'`,
			invitationID, at)
		if err != nil {
			return storeError(err)
		}
		won, err := s.conditionalResult(ctx, tx, res, existsInvitation, invitationID)
		if err != nil {
			return err
		}
		if !won {
			return portalauth.ErrAlreadyAccepted
		}

		_, err = tx.ExecContext(ctx, upsertUser, userArgs(u)...)
		if err != nil {
			if isUniqueViolation(err) {
				return portalauth.ErrDuplicateEmail
			}
			return storeError(err)
		}
		return nil
	})
}

const upsertUser = insertUser + `
	ON CONFLICT (id) DO UPDATE SET
		role = EXCLUDED.role,
		permission_level = EXCLUDED.permission_level,
		company_id = EXCLUDED.company_id,
		active = EXCLUDED.active,
		email_verified = EXCLUDED.email_verified,
		email_verified_at = EXCLUDED.email_verified_at,
		verification_code_hash = EXCLUDED.verification_code_hash,
		verification_expires_at = EXCLUDED.verification_expires_at,
		updated_at = EXCLUDED.updated_at`

const (
	existsUser       = `SELECT 1 FROM users WHERE id = $1`
	existsInvitation = `SELECT 1 FROM invitations WHERE id = $1`
)

// conditionalResult reports whether a conditional UPDATE took effect. When it
// did not, a missing row is reported as ErrNotFound and a failed precondition
// as (false, nil).
func (s *Store) conditionalResult(ctx context.Context, q DBTX, res sql.Result, existsQuery, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeError(err)
	}
	if n > 0 {
		return true, nil
	}

	var one int
	if err := q.QueryRowContext(ctx, existsQuery, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, portalauth.ErrNotFound
		}
		return false, storeError(err)
	}
	return false, nil
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = storeError(cerr)
		}
	}()

	return fn(ctx, tx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*portalauth.User, error) {
	var (
		u                 portalauth.User
		role, level       string
		verifiedAt        sql.NullTime
		verificationUntil sql.NullTime
		resetUntil        sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role, &level, &u.CompanyID,
		&u.Active, &u.EmailVerified, &verifiedAt, &u.VerificationCodeHash, &verificationUntil,
		&u.ResetTokenHash, &resetUntil, &u.TwoFactorSecret, &u.TwoFactorEnabled, &u.TwoFactorLastCounter,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, portalauth.ErrNotFound
		}
		return nil, storeError(err)
	}
	u.Role = permission.Role(role)
	u.Level = permission.Level(level)
	u.EmailVerifiedAt = timePtr(verifiedAt)
	u.VerificationExpiresAt = verificationUntil.Time
	u.ResetExpiresAt = resetUntil.Time
	return &u, nil
}

func userArgs(u *portalauth.User) []any {
	return []any{
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, string(u.Role), string(u.Level), u.CompanyID,
		u.Active, u.EmailVerified, nullTimePtr(u.EmailVerifiedAt), u.VerificationCodeHash, nullTime(u.VerificationExpiresAt),
		u.ResetTokenHash, nullTime(u.ResetExpiresAt), u.TwoFactorSecret, u.TwoFactorEnabled, u.TwoFactorLastCounter,
		u.CreatedAt, u.UpdatedAt,
	}
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	at := t.Time
	return &at
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func storeError(err error) error {
	return fmt.Errorf("%w: %v", portalauth.ErrStoreUnavailable, err)
}
