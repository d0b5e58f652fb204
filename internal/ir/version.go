package ir

// Version constants for the engine and the on-disk layout.
const (
	// LayoutVersion is the bundle layout version this engine reads.
	LayoutVersion = "1"

	// EngineVersion is the sdd engine version.
	EngineVersion = "0.1.0"
)
