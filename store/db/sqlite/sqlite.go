package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/store"
)

//go:embed schema.sql
var schemaSQL string

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No foreign key constraints: the schema has none.
	// - busy_timeout so a second process waits instead of failing.
	// - Journal mode set to WAL: readers keep seeing the last committed
	// snapshot while a write is in progress.
	//
	// Notes:
	// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	separator := "?"
	if strings.Contains(profile.DSN, "?") {
		separator = "&"
	}
	sqliteDB, err := sql.Open("sqlite", profile.DSN+separator+"_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite: single connection is optimal with WAL
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "failed to apply sqlite schema")
	}
	return nil
}

func (d *DB) GetSystemSetting(ctx context.Context, name string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM system_setting WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to get system setting %s", name)
	}
	return value, nil
}

func (d *DB) UpsertSystemSetting(ctx context.Context, name, value string) error {
	stmt := `INSERT INTO system_setting (name, value, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, name, value, time.Now().Unix()); err != nil {
		return errors.Wrapf(err, "failed to upsert system setting %s", name)
	}
	return nil
}

func (d *DB) GetOwnerProfile(ctx context.Context, ownerID string) (*store.OwnerProfile, error) {
	p := &store.OwnerProfile{}
	err := d.db.QueryRowContext(ctx,
		"SELECT owner_id, version, embedding_model, dimension, updated_ts FROM owner_profile WHERE owner_id = ?",
		ownerID,
	).Scan(&p.OwnerID, &p.Version, &p.EmbeddingModel, &p.Dimension, &p.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get owner profile")
	}
	return p, nil
}

func (d *DB) UpsertOwnerProfile(ctx context.Context, p *store.OwnerProfile) error {
	stmt := `INSERT INTO owner_profile (owner_id, version, embedding_model, dimension, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			version = excluded.version,
			embedding_model = excluded.embedding_model,
			dimension = excluded.dimension,
			updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, p.OwnerID, p.Version, p.EmbeddingModel, p.Dimension, p.UpdatedTs); err != nil {
		return errors.Wrap(err, "failed to upsert owner profile")
	}
	return nil
}

func (d *DB) CountOwnerVectors(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM indexed_chunk WHERE owner_id = ?) + (SELECT COUNT(*) FROM cache_entry WHERE owner_id = ?)`,
		ownerID, ownerID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count owner vectors")
	}
	return count, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
