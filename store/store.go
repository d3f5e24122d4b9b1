// Package store implements the duplicate check and insert against the
// relational tally table. The table itself is administered elsewhere; only
// the read/write contract lives here.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/electoral-tools/tally-ingest/config"
	"github.com/electoral-tools/tally-ingest/model"
)

const columns = `"Cod_Ubic", "Total", "Lista_Blanca", "Lista_Celeste", "En_Blanco", "Anulados", "Recurridos", "Observados"`

// PgStore runs the two tally statements against Postgres. A connection is
// acquired per call and released before returning, so the mailbox poll never
// pins a connection across messages.
type PgStore struct {
	pool  *pgxpool.Pool
	table string
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PgStore{pool: pool, table: cfg.Table}, nil
}

// DSN builds the connection string from the configured credentials. The
// server value may carry an explicit port; the driver default applies
// otherwise.
func DSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.Server,
		Path:   "/" + cfg.Name,
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}

// Exists reports whether a row for the branch code is already present.
func (s *PgStore) Exists(ctx context.Context, branchCode string) (bool, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE "Cod_Ubic" = $1`, s.tableIdent())

	var n int
	if err := s.pool.QueryRow(ctx, query, branchCode).Scan(&n); err != nil {
		return false, fmt.Errorf("check branch %s: %w", branchCode, err)
	}
	return n > 0, nil
}

// Insert persists a new tally row. The write is committed before Insert
// returns. There is no uniqueness constraint on the key; the pipeline's
// check-then-insert sequencing is the only duplicate guard.
func (s *PgStore) Insert(ctx context.Context, rec model.TallyRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.tableIdent(), columns)

	_, err := s.pool.Exec(ctx, query,
		rec.BranchCode,
		rec.Total,
		rec.ListaBlanca,
		rec.ListaCeleste,
		rec.Blank,
		rec.Annulled,
		rec.Contested,
		rec.Observed,
	)
	if err != nil {
		return fmt.Errorf("insert branch %s: %w", rec.BranchCode, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PgStore) Close() {
	s.pool.Close()
}

func (s *PgStore) tableIdent() string {
	parts := strings.Split(s.table, ".")
	return pgx.Identifier(parts).Sanitize()
}
