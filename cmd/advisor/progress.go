package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"repo-advisor/internal/service"
)

var barTheme = progressbar.Theme{
	Saucer:        "=",
	SaucerHead:    ">",
	SaucerPadding: " ",
	BarStart:      "[",
	BarEnd:        "]",
}

func progressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// embedProgress renders indexer progress as a bar, created on the first update.
type embedProgress struct {
	out io.Writer
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newEmbedProgress(out io.Writer) *embedProgress {
	return &embedProgress{out: out}
}

// Update matches indexer.ProgressFunc.
func (p *embedProgress) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription("embedding"),
			progressbar.OptionSetWidth(32),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(barTheme),
		)
	}
	_ = p.bar.Set(done)
	if done == total {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

// stagePrinter reports stage boundaries, with a spinner while a stage runs.
type stagePrinter struct {
	out     io.Writer
	spinner bool
	stop    func()
}

func newStagePrinter(out io.Writer, spinner bool) *stagePrinter {
	return &stagePrinter{out: out, spinner: spinner, stop: func() {}}
}

func (s *stagePrinter) StageStarted(_ context.Context, name string, index, total int) {
	// analyze_repo renders its own embedding bar.
	if s.spinner && name != service.StageAnalyzeRepo {
		s.stop = startSpinner(s.out, fmt.Sprintf("[%d/%d] %s", index+1, total, name))
		return
	}
	_, _ = fmt.Fprintf(s.out, "[%d/%d] %s\n", index+1, total, name)
}

func (s *stagePrinter) StageFinished(_ context.Context, name string, duration time.Duration, err error) {
	s.stop()
	s.stop = func() {}
	if err != nil {
		_, _ = fmt.Fprintf(s.out, "  %s failed after %s\n", name, duration.Round(time.Millisecond))
		return
	}
	_, _ = fmt.Fprintf(s.out, "  %s done in %s\n", name, duration.Round(time.Millisecond))
}

func startSpinner(out io.Writer, desc string) func() {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSpinnerType(9),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(10),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(barTheme),
	)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = bar.Add(1)
			case <-done:
				_ = bar.Finish()
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
