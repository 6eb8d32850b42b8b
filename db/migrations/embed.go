// Package dbmigrations exposes embedded SQL migrations for lotledger binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into lotledger binaries.
//
//go:embed *.sql
var Files embed.FS
