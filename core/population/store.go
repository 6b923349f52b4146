package population

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/popstats/core/csql"
	"github.com/relabs-tech/popstats/core/logger"
)

const columns = `id, id_nation, nation, id_year, year, population, slug_nation, source, fetched_at, created_at, updated_at`

// Store persists population records in postgres
type Store struct {
	db    *csql.DB
	table string
}

// NewStore returns a store for db. Call EnsureSchema before first use.
func NewStore(db *csql.DB) *Store {
	return &Store{db: db, table: db.Table("population")}
}

// EnsureSchema creates the population table if it does not exist yet
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+s.table+`
(id uuid NOT NULL,
id_nation varchar NOT NULL,
nation varchar NOT NULL,
id_year integer NOT NULL,
year integer NOT NULL,
population bigint NOT NULL CHECK (population >= 0),
slug_nation varchar NOT NULL,
source varchar NOT NULL,
fetched_at timestamptz NOT NULL,
created_at timestamptz NOT NULL,
updated_at timestamptz NOT NULL,
PRIMARY KEY(id),
UNIQUE(id_nation, year)
);
CREATE index IF NOT EXISTS population_year ON `+s.table+`(year);`)
	if err != nil {
		return fmt.Errorf("cannot create population table: %w", err)
	}
	return nil
}

// Upsert inserts records or updates them if a record for the same nation and
// year exists already. All records are written in one transaction. It returns
// the number of written records and sets their ID to the one stored.
func (s *Store) Upsert(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	query := `INSERT INTO ` + s.table + ` (` + columns + `)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (id_nation, year) DO UPDATE SET nation=EXCLUDED.nation, id_year=EXCLUDED.id_year,
population=EXCLUDED.population, slug_nation=EXCLUDED.slug_nation, source=EXCLUDED.source,
fetched_at=EXCLUDED.fetched_at, updated_at=EXCLUDED.updated_at
RETURNING id;`

	now := time.Now().UTC()
	for i := range records {
		r := &records[i]
		id := r.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if r.SlugNation == "" {
			r.SlugNation = Slug(r.Nation)
		}
		err = tx.QueryRowContext(ctx, query, id, r.IDNation, r.Nation, r.IDYear, r.Year, r.Population,
			r.SlugNation, r.Source, r.FetchedAt, now).Scan(&r.ID)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("cannot upsert %s/%d: %w", r.IDNation, r.Year, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	logger.FromContext(ctx).Debugf("upserted %d population records", len(records))
	return len(records), nil
}

// List returns one page of records and the total number of records
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Record, int, error) {
	column, ok := sortColumns[opts.SortBy]
	if !ok {
		return nil, 0, &ParameterError{Parameter: "sortBy", Reason: "unknown column"}
	}
	direction := "DESC"
	if opts.Order == "asc" {
		direction = "ASC"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+s.table+`;`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM `+s.table+
		` ORDER BY `+column+` `+direction+`, id_nation ASC LIMIT $1 OFFSET $2;`, opts.Limit, opts.Offset())
	if err != nil {
		return nil, 0, err
	}
	records, err := scanRecords(rows)
	return records, total, err
}

// Range returns all records with startYear <= year <= endYear, newest first
func (s *Store) Range(ctx context.Context, startYear, endYear int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM `+s.table+
		` WHERE year BETWEEN $1 AND $2 ORDER BY year DESC, id_nation ASC;`, startYear, endYear)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// All returns all records, newest first
func (s *Store) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM `+s.table+` ORDER BY year DESC, id_nation ASC;`)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		var r Record
		err := rows.Scan(&r.ID, &r.IDNation, &r.Nation, &r.IDYear, &r.Year, &r.Population,
			&r.SlugNation, &r.Source, &r.FetchedAt, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
