// File: internal/scenario/embed.go
package scenario

import _ "embed"

//go:embed data/scenarios.json
var defaultCatalogue []byte
