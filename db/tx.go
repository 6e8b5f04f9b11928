package db

import (
	"context"
	"database/sql"
)

// Tx wraps a sql transaction so it can be handed to meddler helpers
type Tx struct {
	*sql.Tx
}

func NewTx(ctx context.Context, db *sql.DB) (*Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{
		Tx: tx,
	}, nil
}
