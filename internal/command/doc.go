// Package command defines the lmsctl commands on urfave/cli/v2.
//
// Every invocation builds its own session manager from the layered
// configuration, so the persisted credentials in badger or redis are what
// carries a sign-in from one command to the next.
package command
