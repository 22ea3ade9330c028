package ir

// Version constants for the IR schema and the pass.
const (
	// IRVersion is the graph schema version.
	IRVersion = "1"

	// PassVersion is the autocast pass version recorded with each compilation.
	PassVersion = "0.1.0"
)
