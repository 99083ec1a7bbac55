package migrations

import "embed"

// FS holds the goose migrations compiled into the binary.
//
//go:embed *.sql
var FS embed.FS
