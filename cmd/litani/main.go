// Command litani is an incremental build-graph orchestrator: it lets
// callers assemble a dependency graph of shell jobs across multiple CLI
// invocations, then executes that graph in parallel via an external
// incremental build executor while a background reporter continuously
// renders run state.
//
// Grounded on cmd/distri/distri.go's verb-dispatch main loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/litani-build/litani"
)

var (
	verbose     = flag.Bool("v", false, "enable verbose logging")
	veryVerbose = flag.Bool("w", false, "enable very verbose logging")
	version     = flag.Bool("V", false, "print the schema version and exit")
)

type cmd struct {
	fn func(ctx context.Context, args []string) error
}

func funcmain() error {
	flag.Parse()

	if *version {
		fmt.Println(litani.CurrentSchemaVersion.String())
		return nil
	}

	if *veryVerbose {
		log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	} else if *verbose {
		log.SetFlags(log.Ldate | log.Ltime)
	}

	verbs := map[string]cmd{
		"init":        {cmdinit},
		"add-job":     {cmdaddjob},
		"run-build":   {cmdrunbuild},
		"exec":        {cmdexec},
		"print-cache": {cmdprintcache},
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "syntax: litani <command> [options]\n")
		fmt.Fprintf(os.Stderr, "commands: init, add-job, run-build, exec, print-cache\n")
		os.Exit(2)
	}
	verbName, rest := args[0], args[1:]

	v, ok := verbs[verbName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verbName)
		fmt.Fprintf(os.Stderr, "syntax: litani <command> [options]\n")
		os.Exit(2)
	}

	ctx, canc := litani.InterruptibleContext()
	defer canc()
	return v.fn(ctx, rest)
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
