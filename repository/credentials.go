package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	auth "github.com/goliatone/go-church-auth"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// DefaultStoreKey identifies the credential row when a database is
// shared by several admin clients.
const DefaultStoreKey = "default"

var _ auth.CredentialStore = (*BunCredentialStore)(nil)

// CredentialModel is the Bun model for the persisted token pair. Both
// tokens live in one row so a pair is always written atomically.
type CredentialModel struct {
	bun.BaseModel `bun:"table:admin_credentials"`

	StoreKey     string    `bun:"store_key,pk"`
	AccessToken  string    `bun:"access_token,notnull"`
	RefreshToken string    `bun:"refresh_token,notnull,default:''"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// BunCredentialStore implements auth.CredentialStore on top of Bun.
type BunCredentialStore struct {
	db     *bun.DB
	key    string
	logger auth.Logger
	now    func() time.Time
}

// BunStoreOption customizes a BunCredentialStore.
type BunStoreOption func(*BunCredentialStore)

// WithStoreKey selects the credential row.
func WithStoreKey(key string) BunStoreOption {
	return func(s *BunCredentialStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithBunLogger overrides the logger.
func WithBunLogger(logger auth.Logger) BunStoreOption {
	return func(s *BunCredentialStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewBunCredentialStore creates a new store.
func NewBunCredentialStore(db *bun.DB, opts ...BunStoreOption) *BunCredentialStore {
	s := &BunCredentialStore{
		db:     db,
		key:    DefaultStoreKey,
		logger: auth.NewSlogLogger(nil),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// OpenSQLite opens a Bun DB on a SQLite file. A single connection is
// kept so ":memory:" databases survive between queries.
func OpenSQLite(path string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// CreateTable creates the credentials table when missing.
func (s *BunCredentialStore) CreateTable(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*CredentialModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// Save implements auth.CredentialStore.
func (s *BunCredentialStore) Save(ctx context.Context, creds auth.Credentials) error {
	model := &CredentialModel{
		StoreKey:     s.key,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		UpdatedAt:    s.now(),
	}

	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (store_key) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Load implements auth.CredentialStore.
func (s *BunCredentialStore) Load(ctx context.Context) auth.Credentials {
	var model CredentialModel
	err := s.db.NewSelect().
		Model(&model).
		Where("store_key = ?", s.key).
		Scan(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("credential load failed", "error", err)
		}
		return auth.Credentials{}
	}

	if model.AccessToken == "" {
		return auth.Credentials{}
	}

	return auth.Credentials{
		AccessToken:  model.AccessToken,
		RefreshToken: model.RefreshToken,
	}
}

// Clear implements auth.CredentialStore.
func (s *BunCredentialStore) Clear(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*CredentialModel)(nil)).
		Where("store_key = ?", s.key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
