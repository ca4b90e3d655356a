// Package transform derives views of a resource DAG for planning and
// display.
//
// # Waves
//
// [Waves] groups resources into install waves: wave 0 holds resources with
// no dependencies, and every other resource sits one wave after its
// deepest dependency. All resources in one wave can install in parallel
// once the previous waves are done. The installer schedules at finer grain
// (a resource starts as soon as its own dependencies finish), so waves are
// an upper bound on the batch's critical path, not its schedule.
//
// # Transitive Reduction
//
// [TransitiveReduction] removes edges implied by longer paths. If A→B and
// B→C exist, then A→C is redundant for display and is removed. Install
// ordering is unaffected since A still follows C through B.
package transform
