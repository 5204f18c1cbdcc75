// Package daemon tracks the background API server through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrRunning is returned by Acquire when a live process owns the PID file.
	ErrRunning = errors.New("server already running")
	// ErrNotRunning is returned by Stop when no live process owns the PID file.
	ErrNotRunning = errors.New("server not running")
)

// PIDFile records the PID of the background server.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// WritePID writes pid to the file, readable only by the owner.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Acquire claims the file for pid. A stale file left by a dead process is
// replaced; a live owner yields ErrRunning.
func (p *PIDFile) Acquire(pid int) error {
	if owner, running := p.IsRunning(); running {
		return fmt.Errorf("%w (pid %d)", ErrRunning, owner)
	}
	return p.WritePID(pid)
}

// Stop sends term to the owner and waits up to grace for it to exit, then
// sends kill. The PID file is removed once the process is gone.
func (p *PIDFile) Stop(term, kill syscall.Signal, grace time.Duration) (int, error) {
	pid, running := p.IsRunning()
	if !running {
		_ = p.Remove()
		return 0, ErrNotRunning
	}
	if err := p.Signal(term); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if _, alive := p.IsRunning(); !alive {
			return pid, p.Remove()
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := p.Signal(kill); err != nil {
		return pid, fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return pid, p.Remove()
}
