package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	// ErrNilStore is returned when a nil store is used.
	ErrNilStore = errors.New("tenant store is nil")
	// ErrNoPrimaryDB is returned when the resolver exposes no primary database.
	ErrNoPrimaryDB = errors.New("tenant store has no primary database")
)

// Store is the data-store handle of one tenant.
type Store struct {
	key        string
	descriptor Descriptor
	db         dbresolver.DB
	owned      bool
}

// NewStore wraps an existing resolver. The store does not close db.
func NewStore(key string, desc Descriptor, db dbresolver.DB) *Store {
	return &Store{key: normalizeKey(key), descriptor: desc, db: db}
}

// Key returns the tenant key the store was resolved for.
func (s *Store) Key() string {
	if s == nil {
		return ""
	}

	return s.key
}

// Descriptor returns the descriptor the store was built from.
func (s *Store) Descriptor() Descriptor {
	if s == nil {
		return Descriptor{}
	}

	return s.descriptor
}

// Shared reports whether rows of this tenant live in the main database.
func (s *Store) Shared() bool {
	return s != nil && s.descriptor.IsolationMode == Shared
}

// DB returns the primary/replica resolver.
func (s *Store) DB() (dbresolver.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilStore
	}

	return s.db, nil
}

// Primary returns the primary *sql.DB, the one transactions run on.
func (s *Store) Primary() (*sql.DB, error) {
	db, err := s.DB()
	if err != nil {
		return nil, err
	}

	primaries := db.PrimaryDBs()
	if len(primaries) == 0 || primaries[0] == nil {
		return nil, ErrNoPrimaryDB
	}

	return primaries[0], nil
}

// BeginTx starts a transaction on the primary database.
func (s *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	primary, err := s.Primary()
	if err != nil {
		return nil, err
	}

	tx, err := primary.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin tenant %q transaction: %w", s.key, err)
	}

	return tx, nil
}

func (s *Store) close() error {
	if s == nil || !s.owned || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// PoolConfig sizes the connection pools opened by the registry.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (p PoolConfig) normalized() PoolConfig {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = defaultMaxOpenConns
	}

	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = defaultMaxIdleConns
	}

	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = defaultConnMaxLifetime
	}

	if p.ConnMaxIdleTime <= 0 {
		p.ConnMaxIdleTime = defaultConnMaxIdleTime
	}

	return p
}

// Opener builds the resolver for a descriptor.
type Opener func(ctx context.Context, desc Descriptor, pool PoolConfig) (dbresolver.DB, error)

// OpenResolver is the default Opener: sql.Open for the primary and optional
// replica, pooled, wrapped in a round-robin dbresolver and pinged.
func OpenResolver(ctx context.Context, desc Descriptor, pool PoolConfig) (dbresolver.DB, error) {
	pool = pool.normalized()

	primary, err := openPooled(desc.Driver, desc.ConnectionString, pool)
	if err != nil {
		return nil, fmt.Errorf("open primary database: %w", err)
	}

	dbs := []*sql.DB{primary}
	opts := []dbresolver.OptionFunc{
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	}

	if desc.ReplicaConnectionString != "" {
		replica, err := openPooled(desc.Driver, desc.ReplicaConnectionString, pool)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("open replica database: %w", err)
		}

		dbs = append(dbs, replica)
		opts = append(opts, dbresolver.WithReplicaDBs(replica))
	}

	resolver := dbresolver.New(opts...)

	if err := resolver.PingContext(ctx); err != nil {
		for _, db := range dbs {
			_ = db.Close()
		}

		return nil, fmt.Errorf("ping tenant %q database: %w", desc.Key, err)
	}

	return resolver, nil
}

func openPooled(driver, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	return db, nil
}
