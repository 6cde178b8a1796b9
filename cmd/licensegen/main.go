// Command licensegen issues and inspects machine-bound license files.
//
//	licensegen request                       print this machine's request token
//	licensegen issue --request T --expiry D  write a license for the requesting machine
//	licensegen inspect --file license.lic    print the record inside a license file
//	licensegen check                         report the installed license state
//	licensegen rotate                        re-seal the installed license
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	root := newRootCommand(defaultEnvironment())
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
