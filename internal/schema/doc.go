// Package schema compiles per-type JSON Schemas and answers the two
// questions the rest of the engine asks of them: is this document valid,
// and which of its fields hold references to other entities.
//
// Schemas are converted to CUE through cuelang.org/go/encoding/jsonschema
// and validated by unification. Reference fields are declared in the
// schema itself, on a string property or on the items of an array
// property:
//
//	"requirements": {
//	  "type": "array",
//	  "items": {"type": "string", "format": "sdd-ref", "x-sdd-refTargets": ["Requirement"]}
//	}
//
// An absent or empty x-sdd-refTargets means any declared type.
package schema
