// Package harness runs conversation scenarios end to end.
//
// A scenario is a YAML file naming a fixture bundle and a list of steps
// (propose, send, accept, rollback, abort). Run copies the fixture into a
// temporary directory, commits it to a fresh git repository on a work
// branch, starts one session against it and executes the steps in order,
// checking each step's expect clause and then the scenario's assertions.
//
// Everything that could vary between runs is pinned:
//   - the session id (testutil.FixedSessionGenerator)
//   - journal seq values (testutil.DeterministicClock)
//   - agent replies, scripted in the scenario
//
// so RunWithGolden can compare the outcome against a golden file:
//
//	go test ./internal/harness -update
//
// regenerates them. Commit hashes are never part of the snapshot.
//
// Example scenario:
//
//	name: reference_mismatch
//	description: A batch that points a feature at a requirement is rolled back.
//	bundle: ../../../testutil/testdata/sample
//	steps:
//	  - propose:
//	      - entityType: Feature
//	        entityId: auth-logout
//	        fieldPath: adr
//	        newValue: REQ-001
//	    expect: {status: pendingChanges}
//	  - accept: true
//	    expect:
//	      status: active
//	      error_code: REFERENCE_ERROR
//	      committed: false
//	      codes: [ref-type-mismatch]
//	assertions:
//	  - type: clean_tree
package harness
