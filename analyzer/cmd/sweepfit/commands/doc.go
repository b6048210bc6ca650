// Package commands defines the sweepfit CLI.
//
// Commands
//
//   - analyze          Fit and classify sweep files once and print the report
//   - watch            Re-run analyses whenever the config or an input file changes
//   - history list     Show recorded verdicts
//   - history corrections  Show recorded aggregate corrections
//   - history evict    Delete runs older than the configured retention
//
// Every command reads the YAML config named by --config. Logs go to stderr
// as JSON so that stdout carries only the report.
package commands
