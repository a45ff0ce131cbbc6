// Package migrations provides embedded SQL migration files.
// They are applied by the `migrate` subcommand and by testutil.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
