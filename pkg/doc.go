// Package pkg provides the core libraries for stackpack resource installation.
//
// # Overview
//
// Stackpack installs agents, commands, hooks, templates and MCP configs
// from a catalog into a base directory, dependencies first. The pkg
// directory is organized into four main areas:
//
//  1. Domain logic: [resource], [dag], [resolve], [install]
//  2. Infrastructure: [fetch], [fsutil], [cache], [state], [history]
//  3. Orchestration: [pipeline] (resolve → install → record)
//  4. Support: [config], [errors], [observability], [render/nodelink]
//
// # Architecture
//
// The typical data flow through stackpack:
//
//	Catalog file (YAML/TOML)
//	         ↓
//	    [resource] package (load and validate descriptors)
//	         ↓
//	    [resolve] package (dependency closure, cycle check, install order)
//	         ↓
//	    [install] package (bounded concurrent fetch + atomic write)
//	         ↓
//	    [state] + [history] (what is installed, what happened)
//
// # Quick Start
//
//	catalog, _ := resource.LoadFile("catalog.yaml")
//	writer, _ := fsutil.NewAtomicWriter(".claude")
//	st, _ := state.Load(writer)
//
//	inst := install.New(fetch.New(fetch.Options{}), writer, nil)
//	runner := pipeline.NewRunner(catalog, inst, st, nil, nil)
//	result, err := runner.Execute(ctx, pipeline.Options{Roots: []string{"reviewer"}})
//
// # Security
//
// Source URLs must be https and are checked before any request is made.
// Install paths are resolved against the base directory and refused if
// they escape it, including through symlinked parents. Published SHA-256
// checksums are verified before anything is written.
package pkg
