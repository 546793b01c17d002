// Package reporter implements the background reporter loop: a cancellable
// periodic task that rebuilds the Run Snapshot from cache.json and every
// status/*.json file, writes it atomically, and hands it to an injected
// renderer. Grounded on the teacher's ticker-driven scheduler loop
// (internal/batch/batch.go's scheduler.run, 100ms/1s tickers under an
// errgroup) and its isTerminal gate (mattn/go-isatty here rather than a
// raw ioctl, since that library is already in the teacher's own
// dependency set).
//
// Re-architected per the design notes: a single sync.Once-guarded stop
// channel rather than an ad-hoc stop event, and a configurable tick period
// instead of a hardcoded one.
package reporter

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/atomicfile"
	"github.com/litani-build/litani/internal/litanimodel"
	"github.com/litani-build/litani/internal/store"
)

// DefaultInterval is the tick period spec §4.6 specifies.
const DefaultInterval = 2 * time.Second

// Renderer is the external collaborator that turns a snapshot into a
// human-facing report (HTML, terminal text, ...). Out of scope for this
// system per spec §1; callers inject whatever they have.
type Renderer interface {
	Render(snapshot *litanimodel.RunSnapshot) error
}

// NopRenderer renders nothing. Used when no external renderer is wired.
type NopRenderer struct{}

func (NopRenderer) Render(*litanimodel.RunSnapshot) error { return nil }

// IsTerminal reports whether stdout is attached to a terminal, mirroring
// the teacher's isTerminal gate on interactive status output.
func IsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Loop is one reporter background worker for a single run.
type Loop struct {
	Store    *store.Store
	Interval time.Duration
	OutFile  string
	Renderer Renderer

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLoop constructs a Loop with defaults filled in.
func NewLoop(s *store.Store, outFile string, renderer Renderer) *Loop {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	return &Loop{
		Store:    s,
		Interval: DefaultInterval,
		OutFile:  outFile,
		Renderer: renderer,
		stop:     make(chan struct{}),
	}
}

// Stop signals the loop to render one final snapshot and exit, without
// waiting for the next tick. Safe to call more than once or concurrently
// with Run.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Run rebuilds and publishes a snapshot once immediately, then on every
// tick of l.Interval, until Stop is called or ctx is canceled — at which
// point it renders one final snapshot before returning. All reads are
// plain file reads with no lock shared with the execution wrapper, so the
// loop never blocks the executor.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := l.tick(); err != nil {
		// Reporter errors must not kill the run (spec §7): log and retry.
		log.Printf("reporter: initial snapshot failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return l.finalTick()
		case <-l.stop:
			return l.finalTick()
		case <-ticker.C:
			if err := l.tick(); err != nil {
				log.Printf("reporter: snapshot failed: %v", err)
			}
		}
	}
}

func (l *Loop) finalTick() error {
	if err := l.tick(); err != nil {
		return xerrors.Errorf("final snapshot: %w", err)
	}
	return nil
}

func (l *Loop) tick() error {
	snapshot, err := BuildSnapshot(l.Store)
	if err != nil {
		return xerrors.Errorf("building snapshot: %w", err)
	}
	if err := atomicfile.WriteJSON(l.Store.RunSnapshotPath(), snapshot); err != nil {
		return xerrors.Errorf("writing run.json: %w", err)
	}
	if l.OutFile != "" {
		if err := atomicfile.WriteJSON(l.OutFile, snapshot); err != nil {
			return xerrors.Errorf("writing %s: %w", l.OutFile, err)
		}
	}
	if err := l.Renderer.Render(snapshot); err != nil {
		return xerrors.Errorf("rendering: %w", err)
	}
	return nil
}
