// Command lmsctl signs in to the library backend, keeps the session and its
// notification channel alive, and browses the catalogue.
package main

import (
	"fmt"
	"os"

	"github.com/MrEthical07/lmsauth/internal/command"
)

func main() {
	if err := command.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
