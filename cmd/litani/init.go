package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/uuid"

	"github.com/litani-build/litani/internal/coordinator"
)

const initHelp = `litani init [-flags]

Start a new run: allocate a fresh run directory and publish it as the
active run for subsequent add-job/run-build invocations.

Example:
  % litani init --project-name myproject
`

func cmdinit(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("init", flag.ExitOnError)
	var (
		projectName = fset.String("project-name", "", "human-readable name recorded on the run")
	)
	fset.Usage = usage(fset, initHelp)
	fset.Parse(args)

	runID := uuid.NewString()
	s, err := coordinator.Init(runID, *projectName)
	if err != nil {
		return err
	}
	fmt.Println(s.RunID)
	return nil
}
