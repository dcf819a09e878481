// Package logx is planbot's structured logging layer.
//
// It wraps zerolog behind a small value type (Logger) so components can carry
// fixed fields (comp, owner, plan) and keep logging across a live config reload:
//   - console output is human readable with a short caller
//   - the optional file sink is JSON, one event per line
package logx
