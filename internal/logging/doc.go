// Package logging provides opt-in file-based structured logging with
// rotation for the hybrid-query score post-processing pipeline. When the
// --debug flag is set on neuralsearchctl, debug-level logs (CLI startup, MCP
// server lifecycle, pipeline config reloads) are written to
// ~/.neuralsearch/logs/ for troubleshooting. The workflow and the
// normalization/combination packages do not log.
//
// By default (without --debug), logging is minimal and goes to stderr only.
package logging
