package litani

import "fmt"

// SchemaVersion identifies the shape of every persisted run, job descriptor,
// job status and run snapshot. Breaking layout changes bump Major.
type SchemaVersion struct {
	Major int64 `json:"major"`
	Minor int64 `json:"minor"`
	Patch int64 `json:"patch"`
}

func (v SchemaVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// CurrentSchemaVersion is embedded in every Run this binary creates.
var CurrentSchemaVersion = SchemaVersion{Major: 1, Minor: 0, Patch: 0}
