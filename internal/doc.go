// Package internal holds helpers private to lmsauth and lmsctl.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - confloader: layered koanf configuration for lmsctl
//   - logging: slog construction with token redaction
//   - command: the lmsctl command tree
//
// # What this package must NOT do
//
//   - Export types that appear in the public lmsauth API.
//   - Be imported by any package outside this module.
package internal
