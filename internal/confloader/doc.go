// Package confloader layers lmsctl configuration from a YAML file,
// environment variables and command-line flags, in increasing priority.
//
// Environment variables carry the prefix (LMSCTL_ by default) and use a
// double underscore between sections, so LMSCTL_STORAGE__BADGER_DIR sets
// storage.badger_dir.
package confloader
