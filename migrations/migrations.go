// Package migrations embeds the PostgreSQL schema migrations so binaries do
// not depend on the working directory.
package migrations

import "embed"

// FS holds every *.sql migration in golang-migrate naming.
//
//go:embed *.sql
var FS embed.FS
