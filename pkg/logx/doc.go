// Package logx configures taskminder's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// The Service can be re-applied at runtime when the config file changes.
package logx
