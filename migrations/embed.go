// Package migrations embeds the schema shared by the appointment and notification services.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
