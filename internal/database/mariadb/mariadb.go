package mariadb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/database/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ER_DUP_ENTRY
const errDupEntry = 1062

var dialect = sqlstore.Dialect{
	Name:              "mariadb",
	IsUniqueViolation: isUniqueViolation,
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errDupEntry
	}
	return false
}

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool.
func NewPool(cfg *config.DatabaseConfig, dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// Migrate applies all pending migrations.
func (p *Pool) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	return sqlstore.Migrate(ctx, p.db, dialect, sub)
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// IdentityRepository stores identities and face samples in MariaDB or MySQL.
// Concurrent enrollments of one name are resolved by the unique index.
type IdentityRepository struct {
	*sqlstore.Store
}

// NewIdentityRepository creates a repository on the pool.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{Store: sqlstore.New(pool.db, dialect)}
}

// Open connects to MariaDB, applies migrations and returns the identity repository.
func Open(ctx context.Context, cfg *config.DatabaseConfig, dsn string) (*IdentityRepository, *Pool, error) {
	pool, err := NewPool(cfg, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return NewIdentityRepository(pool), pool, nil
}
