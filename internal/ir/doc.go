// Package ir provides the shared data model for sdd bundles.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// data model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Entities are identified by (Type, ID) and are never mutated in place by readers
//   - Reference edges and diagnostics are derived, never persisted
//   - Diagnostics are ordered deterministically (SortDiagnostics)
//   - All JSON tags use snake_case
package ir
