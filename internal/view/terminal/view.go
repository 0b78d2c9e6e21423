// Package terminal renders poller progress on a text terminal.
//
// A line read from the input stands in for a click: it activates the download
// link or dismisses the error dialog. Input is read from construction on, and
// lines that arrive while no prompt is showing are discarded, so an Enter
// pressed during progress cannot answer a dialog that has not appeared yet.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/JakeFAU/taskshell/internal/task"
)

const barWidth = 40

// ErrInputClosed is returned when the input ends while a prompt is waiting.
var ErrInputClosed = errors.New("input closed")

// View writes to out and reads prompt confirmations from in.
type View struct {
	out io.Writer
	in  io.Reader

	mu        sync.Mutex
	redirects []string

	inputMu sync.Mutex
	waiter  chan error
	closed  bool
}

// New builds a View and starts consuming in. A nil in means prompts resolve
// immediately.
func New(out io.Writer, in io.Reader) *View {
	v := &View{out: out, in: in}
	if in != nil {
		go v.read()
	}
	return v
}

func (v *View) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, _ = fmt.Fprintf(v.out, format, args...)
}

// Bar renders percent as a fixed-width bar.
func Bar(percent int) string {
	percent = max(0, min(percent, 100))
	filled := percent * barWidth / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}

// Reset starts a fresh progress line.
func (v *View) Reset(rec task.Record) {
	v.printf("\ntask %s: exporting\n", rec.TaskID)
}

// Progress redraws the progress line in place.
func (v *View) Progress(rec task.Record) {
	v.printf("\r%s %3d%%", Bar(rec.Percent), rec.Percent)
}

// AwaitDownload shows the download link and waits for Enter.
func (v *View) AwaitDownload(ctx context.Context, rec task.Record) error {
	var name, link string
	if rec.Result != nil {
		name, link = rec.Result.Filename, rec.Result.DownloadURL
	}
	return v.prompt(ctx, "\ndone: %s\ndownload: %s\npress Enter to download ", name, link)
}

// AwaitAcknowledge shows the error dialog and waits for Enter.
func (v *View) AwaitAcknowledge(ctx context.Context, message string) error {
	return v.prompt(ctx, "\nerror: %s\npress Enter to continue ", message)
}

// Revoked reports a revoked task.
func (v *View) Revoked(rec task.Record) {
	v.printf("\ntask %s was revoked\n", rec.TaskID)
}

// Redirect prints the navigation target.
func (v *View) Redirect(url string) {
	v.mu.Lock()
	v.redirects = append(v.redirects, url)
	v.mu.Unlock()
	v.printf("\nredirect: %s\n", url)
}

// Redirects returns every URL passed to Redirect.
func (v *View) Redirects() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.redirects...)
}

func (v *View) read() {
	scanner := bufio.NewScanner(v.in)
	for scanner.Scan() {
		v.inputMu.Lock()
		if v.waiter != nil {
			v.waiter <- nil
			v.waiter = nil
		}
		v.inputMu.Unlock()
	}
	v.inputMu.Lock()
	v.closed = true
	if v.waiter != nil {
		v.waiter <- ErrInputClosed
		v.waiter = nil
	}
	v.inputMu.Unlock()
}

// arm registers a waiter for the next line. It must happen before the prompt
// is printed so a line typed in response is never lost.
func (v *View) arm() (chan error, error) {
	v.inputMu.Lock()
	defer v.inputMu.Unlock()
	if v.closed {
		return nil, ErrInputClosed
	}
	ch := make(chan error, 1)
	v.waiter = ch
	return ch, nil
}

func (v *View) disarm(ch chan error) {
	v.inputMu.Lock()
	defer v.inputMu.Unlock()
	if v.waiter == ch {
		v.waiter = nil
	}
}

func (v *View) prompt(ctx context.Context, format string, args ...any) error {
	if v.in == nil {
		v.printf(format, args...)
		return nil
	}
	ch, err := v.arm()
	v.printf(format, args...)
	if err != nil {
		return err
	}
	defer v.disarm(ch)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	}
}
