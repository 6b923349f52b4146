/*
Package csql wraps a postgres sql.DB together with the schema all tables live in
*/
package csql

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/relabs-tech/popstats/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// UniqueViolation is the postgres error code for unique constraint violations
const UniqueViolation = "23505"

// OpenWithSchema opens a postgres database with a schema. The password is
// appended to the data source name if not empty. The schema gets created if
// it does not exist yet.
func OpenWithSchema(dataSourceName, password, schema string) *DB {
	logger.Default().Infoln("connecting to postgres database: ", dataSourceName)
	if password != "" {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		panic(err)
	}
	if err = db.Ping(); err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		logger.Default().Infoln("selected database schema:", schema)
		if _, err = db.Exec(`CREATE schema IF NOT EXISTS ` + pq.QuoteIdentifier(schema) + `;`); err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// New wraps an already opened database. It does not create the schema.
func New(db *sql.DB, schema string) *DB {
	if schema == "" {
		schema = "public"
	}
	return &DB{DB: db, Schema: schema}
}

// Table returns the schema qualified, quoted name of table
func (db *DB) Table(table string) string {
	return pq.QuoteIdentifier(db.Schema) + "." + pq.QuoteIdentifier(table)
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() error {
	if db.Schema == "public" {
		return fmt.Errorf("refuse to drop public schema")
	}
	schema := pq.QuoteIdentifier(db.Schema)
	_, err := db.Exec(`DROP SCHEMA IF EXISTS ` + schema + ` CASCADE;
CREATE schema IF NOT EXISTS ` + schema + `;`)
	if err != nil {
		return fmt.Errorf("clear schema %s: %w", db.Schema, err)
	}
	return nil
}

// IsUniqueViolation returns true if err is a postgres unique constraint violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == UniqueViolation
	}
	return false
}
