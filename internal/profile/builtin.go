package profile

import _ "embed"

//go:embed profiles/baseline.yaml
var baselineYAML []byte

//go:embed profiles/server.yaml
var serverYAML []byte

//go:embed profiles/workstation.yaml
var workstationYAML []byte

// builtinProfiles maps profile names to their embedded YAML content.
var builtinProfiles = map[string][]byte{
	"baseline":    baselineYAML,
	"server":      serverYAML,
	"workstation": workstationYAML,
}
