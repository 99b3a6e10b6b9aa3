// Command classinfo loads class hierarchy declarations, initializes their
// class descriptors and reports the resulting constructor and destructor
// chains. It also stress-tests concurrent initialization and follows
// declaration files as they change.
package main

import "github.com/orizon-lang/classrt/internal/cli"

func main() {
	root, a := newRootCmd()
	if err := root.Execute(); err != nil {
		cli.ExitWithError(a.logger, err)
	}
}
