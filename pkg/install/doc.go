// Package install executes an install plan concurrently.
//
// # Overview
//
// [Installer.Install] walks a [resolve.Plan] in dependency waves: each
// resource keeps a counter of unfinished dependencies and becomes eligible
// when that counter reaches zero. Eligible resources run on a bounded pool,
// so a resource is never started before every one of its dependencies has
// reached a terminal status.
//
// Each resource ends in exactly one [Status]:
//
//   - installed: fetched, verified and written
//   - already-installed: skipped because the registry already has it
//   - failed: attempted and errored
//   - dependency-failed: not attempted because a required dependency failed
//   - canceled: not started because the batch was canceled or timed out
//   - rolled-back: installed, then reverted by rollback
//
// # Rollback
//
// With [Options.RollbackOnError], any failure in the batch reverts every
// file the batch wrote. Files that existed before the batch are restored
// from an in-memory snapshot taken just before they were overwritten.
// Directories the batch created are removed once they are empty again.
//
// # Progress
//
// [Options.Progress] is invoked once per terminal status from a single
// goroutine, so callbacks never run concurrently. A panicking callback is
// recovered and logged; the batch continues.
package install
