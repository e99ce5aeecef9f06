// Command dominium-setup is a thin CLI front-end over entrypoint/setup,
// exercising the engine end to end: it is a demonstrator, not a product CLI
// with shortcuts/registry/desktop integration (those belong to the
// platform-integration front-end, a separate binary).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dominium/dsu/logic/dsuerr"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var dsuErr *dsuerr.Error
		if errors.As(err, &dsuErr) {
			switch {
			case dsuErr.IsUserError():
				fmt.Fprintln(os.Stderr, "run 'dominium-setup --help' for usage")
			case dsuErr.IsIntegrity():
				fmt.Fprintln(os.Stderr, "a payload or journal failed its integrity check; re-fetch the payload before retrying")
			}
		}
		os.Exit(dsuerr.KindOf(err).ExitCode())
	}
}
