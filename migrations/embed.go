// Package migrations embeds the schema files applied by "booking-server migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
