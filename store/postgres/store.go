package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/mfa"
	"github.com/MrEthical07/goIdentity/store/postgres/migrations"
)

var _ goIdentity.IdentityStore = (*Store)(nil)

const uniqueViolation = "23505"

// Store is a goIdentity.IdentityStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects a pool to dsn and pings it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool. The caller keeps ownership of pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Pool exposes the underlying pool for callers sharing it with other stores.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() { s.pool.Close() }

// SetClock replaces the time source used for created, updated and link
// timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ApplyMigrations runs every embedded *_up.sql file in name order. The
// statements are idempotent so running them against a current schema is
// harmless.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	names, err := fs.Glob(migrations.FS, "*_up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return nil
}

const identityColumns = `id, email, password_hash, email_verified, session_version, created_at, updated_at, last_login_at`

func scanIdentity(row pgx.Row) (goIdentity.Identity, error) {
	var (
		ident     goIdentity.Identity
		id        uuid.UUID
		version   int64
		lastLogin *time.Time
	)
	err := row.Scan(&id, &ident.Email, &ident.PasswordHash, &ident.EmailVerified, &version,
		&ident.CreatedAt, &ident.UpdatedAt, &lastLogin)
	if err != nil {
		return goIdentity.Identity{}, err
	}
	ident.ID = id.String()
	ident.SessionVersion = uint64(version)
	ident.CreatedAt = ident.CreatedAt.UTC()
	ident.UpdatedAt = ident.UpdatedAt.UTC()
	if lastLogin != nil {
		ident.LastLoginAt = lastLogin.UTC()
	}
	return ident, nil
}

func (s *Store) GetIdentityByID(ctx context.Context, id string) (goIdentity.Identity, error) {
	uid, err := parseID(id)
	if err != nil {
		return goIdentity.Identity{}, err
	}
	ident, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, uid))
	return ident, mapNotFound(err, id)
}

func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (goIdentity.Identity, error) {
	ident, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = $1`, email))
	return ident, mapNotFound(err, email)
}

func (s *Store) CreateIdentity(ctx context.Context, in goIdentity.NewIdentity) (goIdentity.Identity, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	id, err := uuid.NewV7()
	if err != nil {
		return goIdentity.Identity{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO identities (id, email, password_hash, email_verified, session_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $5)`,
		id, in.Email, in.PasswordHash, in.EmailVerified, now)
	if isUniqueViolation(err) {
		return goIdentity.Identity{}, goIdentity.ErrEmailAlreadyExists
	}
	if err != nil {
		return goIdentity.Identity{}, err
	}
	return goIdentity.Identity{
		ID:            id.String(),
		Email:         in.Email,
		PasswordHash:  in.PasswordHash,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.update(ctx, id,
		`UPDATE identities SET password_hash = $1, updated_at = $2 WHERE id = $3`, hash, s.now(), uid)
}

func (s *Store) UpdateEmail(ctx context.Context, id, email string, verified bool) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	err = s.update(ctx, id,
		`UPDATE identities SET email = $1, email_verified = $2, updated_at = $3 WHERE id = $4`,
		email, verified, s.now(), uid)
	if isUniqueViolation(err) {
		return goIdentity.ErrEmailAlreadyExists
	}
	return err
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.update(ctx, id, `DELETE FROM identities WHERE id = $1`, uid)
}

// UpdateSessionVersion uses GREATEST so a late writer can never move the
// version backwards.
func (s *Store) UpdateSessionVersion(ctx context.Context, id string, version uint64) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.update(ctx, id,
		`UPDATE identities SET session_version = GREATEST(session_version, $1), updated_at = $2 WHERE id = $3`,
		int64(version), s.now(), uid)
}

func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.update(ctx, id, `UPDATE identities SET last_login_at = $1 WHERE id = $2`, at, uid)
}

func (s *Store) GetMFAEnrollment(ctx context.Context, id string) (mfa.Enrollment, error) {
	uid, err := parseID(id)
	if err != nil {
		return mfa.Enrollment{}, err
	}
	var (
		enr                  mfa.Enrollment
		secret, phone, email *string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT e.totp_secret, e.phone, e.email,
		        (SELECT COUNT(*) FROM backup_codes b WHERE b.identity_id = i.id)::int
		 FROM identities i
		 LEFT JOIN mfa_enrollments e ON e.identity_id = i.id
		 WHERE i.id = $1`, uid).Scan(&secret, &phone, &email, &enr.BackupCodesRemaining)
	if err != nil {
		return mfa.Enrollment{}, mapNotFound(err, id)
	}
	enr.TOTPSecret = deref(secret)
	enr.Phone = deref(phone)
	enr.Email = deref(email)
	return enr, nil
}

func (s *Store) upsertEnrollment(ctx context.Context, id, column, value string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO mfa_enrollments (identity_id, `+column+`)
		 SELECT id, $2 FROM identities WHERE id = $1
		 ON CONFLICT (identity_id) DO UPDATE SET `+column+` = EXCLUDED.`+column,
		uid, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
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
	return fmt.Errorf("postgres: method %q has no destination", method)
}

func (s *Store) DisableMFA(ctx context.Context, id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_enrollments WHERE identity_id = $1`, uid); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE identity_id = $1`, uid)
		return err
	})
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, hashes [][32]byte) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM identities WHERE id = $1 FOR UPDATE`, uid).Scan(&one); err != nil {
			return mapNotFound(err, id)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE identity_id = $1`, uid); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, h := range hashes {
			batch.Queue(`INSERT INTO backup_codes (identity_id, code_hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				uid, h[:])
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ConsumeBackupCode relies on DELETE ... RETURNING so that only one of any
// number of concurrent callers sees the row.
func (s *Store) ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (int, bool, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return 0, false, nil
	}
	var remaining int
	var consumed bool
	err = s.pool.QueryRow(ctx,
		`WITH gone AS (
		     DELETE FROM backup_codes WHERE identity_id = $1 AND code_hash = $2 RETURNING 1
		 )
		 SELECT EXISTS (SELECT 1 FROM gone),
		        (SELECT COUNT(*) FROM backup_codes WHERE identity_id = $1)::int - (SELECT COUNT(*) FROM gone)::int`,
		uid, hash[:]).Scan(&consumed, &remaining)
	if err != nil {
		return 0, false, err
	}
	return remaining, consumed, nil
}

func (s *Store) FindIdentityByProvider(ctx context.Context, provider, subject string) (string, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT identity_id FROM provider_links WHERE provider = $1 AND subject = $2`,
		provider, subject).Scan(&id)
	if err != nil {
		return "", mapNotFound(err, provider+"|"+subject)
	}
	return id.String(), nil
}

func (s *Store) LinkProvider(ctx context.Context, id, provider, subject string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	var owner uuid.UUID
	err = s.pool.QueryRow(ctx,
		`WITH ins AS (
		     INSERT INTO provider_links (provider, subject, identity_id, created_at)
		     SELECT $1, $2, id, $4 FROM identities WHERE id = $3
		     ON CONFLICT (provider, subject) DO NOTHING
		     RETURNING identity_id
		 )
		 SELECT identity_id FROM ins
		 UNION ALL
		 SELECT identity_id FROM provider_links WHERE provider = $1 AND subject = $2
		 LIMIT 1`,
		provider, subject, uid, s.now()).Scan(&owner)
	if err != nil {
		return mapNotFound(err, id)
	}
	if owner != uid {
		return goIdentity.ErrEmailAlreadyExists
	}
	return nil
}

// parseID maps a malformed ID to ErrIdentityNotFound; such an ID can never
// have been issued by this store.
func parseID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, notFound(id)
	}
	return uid, nil
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", goIdentity.ErrIdentityNotFound, key)
}

func mapNotFound(err error, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(key)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
