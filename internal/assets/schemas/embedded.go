// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so the CLI and library work
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// ProvidersManifestSchema is the embedded providers-manifest JSON schema.
//
//go:embed providers-manifest.schema.json
var ProvidersManifestSchema []byte
