// Package migrations embeds the ledger schema so binaries and tests can
// apply it without a checkout on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
