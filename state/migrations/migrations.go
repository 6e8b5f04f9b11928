package migrations

import (
	_ "embed"

	"github.com/ledgerlabs/ledgercore/db"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed 0001.sql
var mig001 string

// RunMigrations brings the state schema up to date
func RunMigrations(dbPath string) error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "0001",
				Up: []string{mig001},
			},
		},
	}

	return db.RunMigrations(dbPath, migrations)
}
