// Package config loads and watches the analyzer configuration file
// (sweepfit.yaml).
//
// Top-level types:
//   - Config{Inputs, Analyses, Fitter, Pipeline, Output, Storage}: full tree
//   - Analysis: name, match, predicate, chain_length, models, scale, strategy,
//     preset/preset_params or thresholds/rules/default, aggregate,
//     drop_failed_points
//   - FitterConfig: max_evaluations, ftol, xtol
//   - OutputConfig: format (json|text), textfile
//   - StorageConfig: backend (sqlite|none), path, retention
//
// Load(path) reads the YAML file, applies defaults (5000 evaluations, one
// worker per CPU, json output, 30 day retention), then validates required
// fields and enums. Model names, predicates and rule conditions are compiled
// later by the pipeline, which reports their errors.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config.
package config
