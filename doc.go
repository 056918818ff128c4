// Package linkz provides composable processing steps over in-memory tables.
//
// # Overview
//
// A Link transforms a Table into a new Table. Links never modify their input,
// so the same table can be handed to several links (as Union does) or to the
// same link again (as Retry does).
//
// Everything implements Link, leaf steps and composites alike:
//
//   - Unit: a whole-table function wrapped as a Link
//   - RowLink: a per-row function whose failures are recorded in the
//     reserved __error__ column instead of aborting the table
//   - Chain: links applied one after the other
//   - Union: two links on the same input, columns merged
//   - SerialPartition / ParallelPartition: a link applied to row partitions,
//     one at a time or on a bounded worker pool
//   - Timeout, Retry, Fallback: wrappers for links that may stall or fail
//
// # Configuration Trees
//
// Every link describes itself as a Tree: a nested map holding its class
// under __class__ and one entry per constructor parameter. A Registry maps
// classes back to constructors, so
//
//	link, err := registry.Construct(linkz.Describe(link))
//
// rebuilds an equal link. Trees are plain maps and serialize to JSON or YAML
// (see package config).
//
// # Errors
//
// Row failures stay in the table. Everything else is returned:
//
//   - *Error: a link failed; Path lists the composites it passed through
//   - *StructuralInputError: required input columns are missing
//   - *MergeConflictError: Union branches disagree on a shared column
//   - *PartitionWorkerError: one or more parallel partitions failed
//   - *ConfigurationError, *UnknownUnitError: a tree could not be built
//
// # Usage Example
//
//	reg := linkz.NewRegistry()
//	if err := links.Register(reg); err != nil {
//	    return err
//	}
//
//	scale := links.LinearModelRow(2, 1, "x", "y")
//	pipeline := linkz.NewChain(
//	    linkz.NewUnion(scale, links.KeepColumns("x")),
//	    links.StripErrors("errors.csv"),
//	)
//	defer pipeline.Close()
//
//	out, err := pipeline.Apply(ctx, table)
//
// # Observability
//
// Composites carry metrics (metricz), spans (tracez) and typed events (hookz)
// and take a clock (clockz) for tests. See each type's documentation for its
// keys.
package linkz
