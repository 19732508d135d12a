// Package migrations embeds the SQL migration files into the binary so
// adbmux can create its history database without files on disk.
//
// Import it for its side effect:
//
//	import _ "github.com/nerrad567/adbmux/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/adbmux/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.Migrations = files
	database.MigrationsDir = "."
}
