package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/mfa"
)

var _ goIdentity.IdentityStore = (*Store)(nil)

// Store is a goIdentity.IdentityStore backed by a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open opens the database at dsn. The pool is limited to a single
// connection so writers never see SQLITE_BUSY; callers that need more
// throughput should use the postgres store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:      db,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetClock replaces the time source used for created, updated and link
// timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // safe after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const identityColumns = `id, email, password_hash, email_verified, session_version, created_at, updated_at, last_login_at`

func scanIdentity(row *sql.Row) (goIdentity.Identity, error) {
	var (
		ident     goIdentity.Identity
		version   int64
		created   int64
		updated   int64
		lastLogin sql.NullInt64
	)
	err := row.Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &ident.EmailVerified, &version, &created, &updated, &lastLogin)
	if err != nil {
		return goIdentity.Identity{}, err
	}
	ident.SessionVersion = uint64(version)
	ident.CreatedAt = fromMicro(created)
	ident.UpdatedAt = fromMicro(updated)
	if lastLogin.Valid {
		ident.LastLoginAt = fromMicro(lastLogin.Int64)
	}
	return ident, nil
}

func (s *Store) GetIdentityByID(ctx context.Context, id string) (goIdentity.Identity, error) {
	ident, err := scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = ?`, id))
	return ident, mapNotFound(err, id)
}

func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (goIdentity.Identity, error) {
	ident, err := scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = ?`, email))
	return ident, mapNotFound(err, email)
}

func (s *Store) CreateIdentity(ctx context.Context, in goIdentity.NewIdentity) (goIdentity.Identity, error) {
	now := s.now().UTC()
	ident := goIdentity.Identity{
		ID:            s.newID(),
		Email:         in.Email,
		PasswordHash:  in.PasswordHash,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now.Truncate(time.Microsecond),
		UpdatedAt:     now.Truncate(time.Microsecond),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (id, email, password_hash, email_verified, session_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		ident.ID, ident.Email, ident.PasswordHash, ident.EmailVerified, now.UnixMicro(), now.UnixMicro())
	if isUniqueViolation(err) {
		return goIdentity.Identity{}, goIdentity.ErrEmailAlreadyExists
	}
	if err != nil {
		return goIdentity.Identity{}, err
	}
	return ident, nil
}

// update runs a single-row UPDATE and reports ErrIdentityNotFound when no
// row matched.
func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.update(ctx, id,
		`UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, s.now().UnixMicro(), id)
}

func (s *Store) UpdateEmail(ctx context.Context, id, email string, verified bool) error {
	err := s.update(ctx, id,
		`UPDATE identities SET email = ?, email_verified = ?, updated_at = ? WHERE id = ?`,
		email, verified, s.now().UnixMicro(), id)
	if isUniqueViolation(err) {
		return goIdentity.ErrEmailAlreadyExists
	}
	return err
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	return s.update(ctx, id, `DELETE FROM identities WHERE id = ?`, id)
}

// UpdateSessionVersion only moves the stored version forward. A lower or
// equal version is accepted silently.
func (s *Store) UpdateSessionVersion(ctx context.Context, id string, version uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET session_version = ?, updated_at = ? WHERE id = ? AND session_version < ?`,
		int64(version), s.now().UnixMicro(), id, int64(version))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	return s.requireIdentity(ctx, s.db, id)
}

func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id,
		`UPDATE identities SET last_login_at = ? WHERE id = ?`, at.UnixMicro(), id)
}

func (s *Store) requireIdentity(ctx context.Context, q querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM identities WHERE id = ?`, id).Scan(&one)
	return mapNotFound(err, id)
}

func (s *Store) GetMFAEnrollment(ctx context.Context, id string) (mfa.Enrollment, error) {
	var (
		enr    mfa.Enrollment
		secret sql.NullString
		phone  sql.NullString
		email  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT e.totp_secret, e.phone, e.email,
		        (SELECT COUNT(*) FROM backup_codes b WHERE b.identity_id = i.id)
		 FROM identities i
		 LEFT JOIN mfa_enrollments e ON e.identity_id = i.id
		 WHERE i.id = ?`, id).Scan(&secret, &phone, &email, &enr.BackupCodesRemaining)
	if err != nil {
		return mfa.Enrollment{}, mapNotFound(err, id)
	}
	enr.TOTPSecret = secret.String
	enr.Phone = phone.String
	enr.Email = email.String
	return enr, nil
}

func (s *Store) upsertEnrollment(ctx context.Context, id, column, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireIdentity(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO mfa_enrollments (identity_id, `+column+`) VALUES (?, ?)
			 ON CONFLICT (identity_id) DO UPDATE SET `+column+` = excluded.`+column,
			id, value)
		return err
	})
}

func (s *Store) SaveTOTPSecret(ctx context.Context, id, secret string) error {
	return s.upsertEnrollment(ctx, id, "totp_secret", secret)
}

func (s *Store) SaveMFADestination(ctx context.Context, id string, method mfa.Method, destination string) error {
	switch method {
	case mfa.MethodSMS:
		return s.upsertEnrollment(ctx, id, "phone", destination)
	case mfa.MethodEmail:
		return s.upsertEnrollment(ctx, id, "email", destination)
	}
	return fmt.Errorf("sqlite: method %q has no destination", method)
}

func (s *Store) DisableMFA(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_enrollments WHERE identity_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE identity_id = ?`, id)
		return err
	})
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, hashes [][32]byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireIdentity(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE identity_id = ?`, id); err != nil {
			return err
		}
		for _, h := range hashes {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO backup_codes (identity_id, code_hash) VALUES (?, ?)`,
				id, h[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ConsumeBackupCode deletes the code in the same statement that checks it,
// so two concurrent callers cannot both consume it.
func (s *Store) ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (int, bool, error) {
	var (
		remaining int
		consumed  bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM backup_codes WHERE identity_id = ? AND code_hash = ?`, id, hash[:])
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		consumed = n == 1
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM backup_codes WHERE identity_id = ?`, id).Scan(&remaining)
	})
	if err != nil {
		return 0, false, err
	}
	return remaining, consumed, nil
}

func (s *Store) FindIdentityByProvider(ctx context.Context, provider, subject string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT identity_id FROM provider_links WHERE provider = ? AND subject = ?`,
		provider, subject).Scan(&id)
	if err != nil {
		return "", mapNotFound(err, provider+"|"+subject)
	}
	return id, nil
}

func (s *Store) LinkProvider(ctx context.Context, id, provider, subject string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireIdentity(ctx, tx, id); err != nil {
			return err
		}
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT identity_id FROM provider_links WHERE provider = ? AND subject = ?`,
			provider, subject).Scan(&owner)
		switch {
		case err == nil && owner == id:
			return nil
		case err == nil:
			return goIdentity.ErrEmailAlreadyExists
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO provider_links (provider, subject, identity_id, created_at) VALUES (?, ?, ?, ?)`,
			provider, subject, id, s.now().UnixMicro())
		return err
	})
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", goIdentity.ErrIdentityNotFound, key)
}

func mapNotFound(err error, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(key)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func fromMicro(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
