// Package types defines the shared sweep data model exchanged between the
// ingest layer and the analysis pipeline. These are the canonical in-memory
// representations of measurement sweeps, independent of any file format.
package types
