package catalog

import "embed"

// FS holds the template catalog and the instruction templates it references.
//
//go:embed catalog.yaml *.md
var FS embed.FS
