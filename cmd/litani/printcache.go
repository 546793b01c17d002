package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"

	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/litanimodel"
	"github.com/litani-build/litani/internal/store"
)

const printCacheHelp = `litani print-cache [-flags]

Print the active run's cache.json, pretty-printed. Read-only; intended
for debugging a run in progress.

Example:
  % litani print-cache
`

func cmdprintcache(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("print-cache", flag.ExitOnError)
	fset.Usage = usage(fset, printCacheHelp)
	fset.Parse(args)

	s, err := store.Open()
	if err != nil {
		return xerrors.Errorf("print-cache: no active run: %w", err)
	}

	b, err := ioutil.ReadFile(s.CachePath())
	if err != nil {
		return xerrors.Errorf("print-cache: reading %s: %w", s.CachePath(), err)
	}
	var cache litanimodel.Cache
	if err := litanimodel.Unmarshal(b, &cache); err != nil {
		return xerrors.Errorf("print-cache: decoding %s: %w", s.CachePath(), err)
	}

	out, err := litanimodel.Marshal(&cache)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
