package parabuild

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
)

// StopFlag is the process-wide advisory stop signal described in §4.7: armed
// before workers are spawned and set once the context passed to Run is done
// (for the CLI, the interrupt context). A worker's own error does not set it.
// Worker loops poll it before and after each item.
type StopFlag struct {
	stopped atomic.Bool
}

func (f *StopFlag) set()        { f.stopped.Store(true) }
func (f *StopFlag) isSet() bool { return f.stopped.Load() }

// armFrom sets the flag the moment done is closed, the way the root
// InterruptibleContext cancels a context on signal receipt.
func (f *StopFlag) armFrom(done <-chan struct{}) {
	go func() {
		<-done
		f.set()
	}()
}

// progressBoard is a two-counter "Building"/"Running" status line, redrawn
// with the same cursor-restore escape internal/batch's scheduler uses for
// its per-package status lines. When disabled (or stdout isn't a terminal)
// every method is a no-op — advancing the counters must never change
// behavior, only whether it's visible.
type progressBoard struct {
	enabled bool

	mu        sync.Mutex
	building  int
	running   int
	total     int
	lastDrawn time.Time
}

func newProgressBoard(enabled bool, total int) *progressBoard {
	return &progressBoard{enabled: enabled && isatty.IsTerminal(os.Stdout.Fd()), total: total}
}

func (p *progressBoard) advanceBuilding() { p.advance(&p.building) }
func (p *progressBoard) advanceRunning()  { p.advance(&p.running) }

func (p *progressBoard) advance(counter *int) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	*counter++
	if time.Since(p.lastDrawn) < 100*time.Millisecond {
		return
	}
	p.draw()
}

// note prints a transient status line (workspace provisioning, copy phase)
// under the same gate, carrying forward the spinner-style messages the
// original crate showed during init/copy.
func (p *progressBoard) note(line string) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Println(line)
}

// draw must be called with p.mu held.
func (p *progressBoard) draw() {
	p.lastDrawn = time.Now()
	lines := []string{
		fmt.Sprintf("Building: %d/%d", p.building, p.total),
		fmt.Sprintf("Running:  %d/%d", p.running, p.total),
	}
	maxLen := 0
	for _, l := range lines {
		if len(l) > maxLen {
			maxLen = len(l)
		}
	}
	for _, l := range lines {
		if len(l) < maxLen {
			l += strings.Repeat(" ", maxLen-len(l))
		}
		fmt.Println(l)
	}
	fmt.Printf("\033[%dA", len(lines)) // restore cursor position
}
