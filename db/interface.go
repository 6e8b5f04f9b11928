package db

import (
	"database/sql"
)

// Querier is the query surface shared by *sql.DB and Tx. Helpers that must
// work both inside and outside a transaction take a Querier.
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}
