// Package graph links stage descriptors into a validated dependency graph.
//
// Edges point from a consumer stage to the stages it depends on: its
// predecessor and every stage it imports artifacts from. [Build] rejects
// unknown references, cycles, ambiguous imports and more than one terminal
// stage, and computes a topological order that is stable with respect to
// declaration order. The execution engine dispatches stages according to
// this graph.
package graph
