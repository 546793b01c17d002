package main

import (
	"context"
	"flag"
	"os"

	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/jobexec"
	"github.com/litani-build/litani/internal/litanimodel"
	"github.com/litani-build/litani/internal/store"
)

const execHelp = `litani exec -descriptor <path>

Run exactly one job descriptor to completion and publish its status.
This is the command the emitted ninja graph re-invokes litani with for
every job; it is not meant to be called directly.

Example:
  % litani exec -descriptor /tmp/litani/runs/<run-id>/jobs/<job-id>.json
`

func cmdexec(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("exec", flag.ExitOnError)
	var (
		descriptor = fset.String("descriptor", "", "path to the job descriptor to execute")
	)
	fset.Usage = usage(fset, execHelp)
	fset.Parse(args)

	if *descriptor == "" {
		return xerrors.New("exec: -descriptor is required")
	}

	d, err := jobexec.ReadDescriptor(*descriptor)
	if err != nil {
		return err
	}

	s, err := store.Open()
	if err != nil {
		return xerrors.Errorf("exec: no active run: %w", err)
	}

	w := &jobexec.Wrapper{
		RunDir: s.Dir,
		ArtifactDir: func(pipeline string, stage litanimodel.CIStage) string {
			return s.ArtifactDir(pipeline, string(stage))
		},
	}

	status, err := w.Run(ctx, d, os.Args)
	if err != nil {
		return err
	}

	os.Exit(status.WrapperReturnCode)
	return nil
}
