// Package ingest reads measurement sweeps from files and exposition
// endpoints and normalizes them into types.Sweep values.
//
// Supported sources:
//   - .yaml / .yml / .json: a document {sweeps: [{id, labels, points}]}; a bare
//     list of sweeps or a single sweep object is also accepted
//   - .prom / .txt: Prometheus text exposition carrying the counter
//     sweep_outcome_shots_total{sweep, x, outcome}; any other labels become
//     sweep labels
//   - http:// and https:// URLs serving the same exposition
//
// Points are sorted by x after loading. Count validation beyond parsing is
// left to the aggregate package, which reports it per point.
package ingest
