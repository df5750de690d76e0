// Package model implements the per-cohort CKD trajectory
// microsimulation engine.
//
// # Reading Guide
//
// Start with these three files to understand the engine:
//   - types.go: the trajectory table (one Row per individual per age) and its invariants
//   - decline.go: piecewise-linear eGFR integration and cutoff-crossing location
//   - pipeline.go: the four-phase trajectory generation pipeline and the paired two-scenario runner
//
// # Architecture
//
// The engine is a sequence of whole-cohort batch transformations over an
// in-memory trajectory table, always ordered by (pid, age):
//
//	cohort -> decline segments -> cutoff-crossing events -> intervention
//	events -> re-integrated trajectory -> hazard table -> final trajectory
//
// Supporting concerns live in sub-packages:
//   - model/egfr: CKD-EPI equations, stage and range-bucket classification
//   - model/survival: piecewise-exponential hazard/survival/CDF math
//
// All randomness is explicit: sampling either consumes a seeded stream
// from Streams (rng.go) or externally supplied uniform draw arrays
// indexed by pid, which is what makes common-random-number pairing
// between a reference and a counterfactual scenario possible. A full
// trajectory generation for one cohort and one parameter set is one
// blocking call with no shared mutable state across calls.
package model
