package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// entityTable maps an entity kind to its logical database and table.
type entityTable struct {
	db     string
	table  string
	keyCol string
}

// Logical database names. Each holds its own connection pool; a kind is
// always answered by the same database.
const (
	dbDataHub = "datahub"
	dbCivic   = "civic"
)

var entityTables = map[string]entityTable{
	"population": {db: dbDataHub, table: "pop_municipios", keyCol: "municipio_key"},
	"facility":   {db: dbDataHub, table: "geo_facilities", keyCol: "facility_key"},
	"fiscal":     {db: dbCivic, table: "fiscal_indicadores", keyCol: "indicador_key"},
	"protocol":   {db: dbCivic, table: "protocolos_clinicos", keyCol: "protocolo_key"},
}

// LiveProvider answers reads from live Postgres databases via pgx pools.
type LiveProvider struct {
	pools map[string]*pgxpool.Pool
}

// NewLive connects to the two logical databases backing the platform.
func NewLive(ctx context.Context, dataHubDSN, civicDSN string) (*LiveProvider, error) {
	pools := make(map[string]*pgxpool.Pool, 2)
	for db, dsn := range map[string]string{dbDataHub: dataHubDSN, dbCivic: civicDSN} {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			for _, p := range pools {
				p.Close()
			}
			return nil, fmt.Errorf("connect %s: %w", db, err)
		}
		pools[db] = pool
	}
	return &LiveProvider{pools: pools}, nil
}

// FetchEntity looks up a single record by kind and key.
func (p *LiveProvider) FetchEntity(ctx context.Context, kind, key string) (Record, error) {
	et, ok := entityTables[kind]
	if !ok {
		return nil, ErrNotFound
	}
	pool, ok := p.pools[et.db]
	if !ok {
		return nil, fmt.Errorf("no pool for database %s", et.db)
	}

	// Table and column names come from the static entityTables map, never
	// from user input; only the key is parameterized.
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 LIMIT 1", et.table, et.keyCol)

	rows, err := pool.Query(ctx, query, strings.ToLower(strings.TrimSpace(key)))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", et.table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", et.table, err)
		}
		return nil, ErrNotFound
	}

	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("decode %s row: %w", et.table, err)
	}

	rec := make(Record, len(values))
	for i, fd := range rows.FieldDescriptions() {
		rec[string(fd.Name)] = values[i]
	}
	return rec, nil
}

// Name identifies the provider for logging.
func (p *LiveProvider) Name() string { return "live" }

// Ping verifies every pool is reachable.
func (p *LiveProvider) Ping(ctx context.Context) error {
	for db, pool := range p.pools {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", db, err)
		}
	}
	return nil
}

// Close releases all connection pools.
func (p *LiveProvider) Close() {
	for _, pool := range p.pools {
		pool.Close()
	}
}

var (
	_ DataProvider = (*LiveProvider)(nil)
	_ DataProvider = (*MockProvider)(nil)
)
