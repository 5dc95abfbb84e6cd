package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/store"
)

//go:embed schema.sql
var schemaSQL string

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL database with the pgvector extension.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "failed to apply postgres schema")
	}
	return nil
}

func (d *DB) GetSystemSetting(ctx context.Context, name string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM system_setting WHERE name = $1", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to get system setting %s", name)
	}
	return value, nil
}

func (d *DB) UpsertSystemSetting(ctx context.Context, name, value string) error {
	stmt := `INSERT INTO system_setting (name, value, updated_ts) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, name, value, time.Now().Unix()); err != nil {
		return errors.Wrapf(err, "failed to upsert system setting %s", name)
	}
	return nil
}

func (d *DB) GetOwnerProfile(ctx context.Context, ownerID string) (*store.OwnerProfile, error) {
	p := &store.OwnerProfile{}
	err := d.db.QueryRowContext(ctx,
		"SELECT owner_id, version, embedding_model, dimension, updated_ts FROM owner_profile WHERE owner_id = $1",
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
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (owner_id) DO UPDATE SET
			version = EXCLUDED.version,
			embedding_model = EXCLUDED.embedding_model,
			dimension = EXCLUDED.dimension,
			updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, p.OwnerID, p.Version, p.EmbeddingModel, p.Dimension, p.UpdatedTs); err != nil {
		return errors.Wrap(err, "failed to upsert owner profile")
	}
	return nil
}

func (d *DB) CountOwnerVectors(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM indexed_chunk WHERE owner_id = $1) + (SELECT COUNT(*) FROM cache_entry WHERE owner_id = $1)`,
		ownerID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count owner vectors")
	}
	return count, nil
}

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}
