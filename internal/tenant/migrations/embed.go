package migrations

import "embed"

//go:embed doctor/*.sql
var Doctor embed.FS

//go:embed organization/*.sql
var Organization embed.FS
