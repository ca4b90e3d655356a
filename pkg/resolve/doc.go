// Package resolve turns requested resource ids into an install plan.
//
// # Overview
//
// Resolution runs in two steps, both pure and in memory:
//
//  1. [Builder.Build] walks the catalog depth-first from the roots, adding
//     one node per resource and one edge per dependency. Shared
//     dependencies collapse into a single node. An "on stack" marker,
//     distinct from "done", detects cycles as soon as they are entered.
//  2. [NewPlan] orders the graph with [dag.DAG.TopoSort] and splits the
//     order into resources to install and resources already present.
//
// [Resolver.Resolve] composes the two.
//
// # Errors
//
// A missing required dependency yields [errors.NotFoundError] naming the
// resource that required it. A cycle yields [errors.CycleError] whose path
// repeats the entry id at both ends. Descriptors with non-https sources or
// install paths that could escape the base directory fail with a SECURITY
// code. In every case no plan is returned.
//
// Recommended dependencies are followed only when requested, but they are
// always looked up: a recommended id missing from the catalog is reported
// in [Plan.Missing] either way and does not fail resolution.
//
// [errors.NotFoundError]: github.com/matzehuels/stackpack/pkg/errors.NotFoundError
// [errors.CycleError]: github.com/matzehuels/stackpack/pkg/errors.CycleError
package resolve
