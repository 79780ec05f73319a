// Package migrations holds the devices and sessions schema. Importing it
// for side effects registers the files with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/database"
)

//go:embed *.sql
var schema embed.FS

func init() {
	database.MigrationsFS = schema
	database.MigrationsDir = "."
}
