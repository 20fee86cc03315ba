// Package migrations embeds the SQL schema so the binary needs no files on
// disk to create or upgrade its history database.
package migrations

import "embed"

// FS holds every *.sql file of this directory at its root.
//
//go:embed *.sql
var FS embed.FS
