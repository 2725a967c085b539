// Package migrations embeds the registry schema migrations into the binary.
//
// Every endpoint registry file is migrated from this set when it is opened,
// so files created by older releases are brought forward in place.
package migrations

import "embed"

// FS holds the *.sql migration files at its root.
//
//go:embed *.sql
var FS embed.FS
