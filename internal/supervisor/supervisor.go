// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/parley/internal/instance"
)

// =============================================================================
// GPU STATUS
// =============================================================================

// GPUStatus is derived from well-known lines in the child's logs.
type GPUStatus int

const (
	GPUUnknown GPUStatus = iota
	GPUNone
	GPUVulkan
	GPURocmAvailable
	GPURocmActive
)

func (s GPUStatus) String() string {
	switch s {
	case GPUNone:
		return "no_gpu"
	case GPUVulkan:
		return "vulkan"
	case GPURocmAvailable:
		return "rocm_available"
	case GPURocmActive:
		return "rocm_active"
	default:
		return "unknown"
	}
}

// =============================================================================
// SUPERVISOR
// =============================================================================

const (
	termGrace = 5 * time.Second
	killGrace = 2 * time.Second

	// maxLogLines bounds the retained child log.
	maxLogLines = 512
)

// Supervisor manages one managed instance's `ollama serve` child.
type Supervisor struct {
	inst    *instance.Instance
	binPath string

	// OnOversizeRequest fires when the child logs a too-large model
	// request. Optional.
	OnOversizeRequest func()

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{} // closed when the child has been reaped
	logs    []string
	logHead int
	gpu     GPUStatus
	version string
}

// New creates a supervisor for a managed instance. binPath is the server
// binary to spawn.
func New(inst *instance.Instance, binPath string) *Supervisor {
	return &Supervisor{inst: inst, binPath: binPath}
}

// Running reports whether a child is currently alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running()
}

func (s *Supervisor) running() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// GPUStatus returns the status derived from the child's logs so far.
func (s *Supervisor) GPUStatus() GPUStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gpu
}

// Logs returns the retained child log lines, oldest first.
func (s *Supervisor) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.logs))
	out = append(out, s.logs[s.logHead:]...)
	out = append(out, s.logs[:s.logHead]...)
	return out
}

// Start spawns the child in its own process group and attaches the log
// readers. No-op when a child is already running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running() {
		return nil
	}

	cmd := exec.Command(s.binPath, "serve")
	cmd.Env = ComposeEnv(s.inst)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", s.binPath, err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})
	done := s.done

	// Both readers drain to EOF, then the child is reaped.
	go func() {
		var g errgroup.Group
		g.Go(func() error { s.readLog(stdout); return nil })
		g.Go(func() error { s.readLog(stderr); return nil })
		g.Wait()
		if err := cmd.Wait(); err != nil {
			log.Printf("supervisor: child exited: %v", err)
		}
		close(done)
	}()

	return nil
}

// readLog persists lines into the bounded ring and scans each for the
// well-known markers.
func (s *Supervisor) readLog(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()

		s.mu.Lock()
		if len(s.logs) < maxLogLines {
			s.logs = append(s.logs, line)
		} else {
			s.logs[s.logHead] = line
			s.logHead = (s.logHead + 1) % maxLogLines
		}
		s.mu.Unlock()

		s.scanLine(line)
	}
}

// scanLine updates GPU status and fires events based on marker substrings.
func (s *Supervisor) scanLine(line string) {
	if strings.Contains(line, `msg="model request too large"`) {
		if s.OnOversizeRequest != nil {
			s.OnOversizeRequest()
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(line, "library=ROCm"):
		s.gpu = GPURocmActive
	case strings.Contains(line, "library=Vulkan"):
		s.gpu = GPUVulkan
	case strings.Contains(line, `msg="amdgpu is supported"`):
		if s.gpu != GPURocmActive {
			s.gpu = GPURocmAvailable
		}
	case strings.Contains(line, "library=cpu"):
		if s.gpu == GPUUnknown {
			s.gpu = GPUNone
		}
	}
}

// Stop terminates the child's process group: SIGTERM, wait up to 5 s,
// then SIGKILL, wait up to 2 s. Idempotent; failures downgrade to
// warning logs and Stop never returns an error.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	alive := s.running()
	s.mu.Unlock()

	if cmd == nil || !alive {
		log.Printf("supervisor: already stopped")
		return
	}

	pid := cmd.Process.Pid
	if err := terminateGroup(pid); err != nil {
		log.Printf("supervisor: SIGTERM pid %d: %v", pid, err)
	}

	select {
	case <-done:
		return
	case <-time.After(termGrace):
	}

	log.Printf("supervisor: pid %d did not exit, escalating to SIGKILL", pid)
	if err := killGroup(pid); err != nil {
		log.Printf("supervisor: SIGKILL pid %d: %v", pid, err)
	}

	select {
	case <-done:
	case <-time.After(killGrace):
		log.Printf("supervisor: pid %d still not reaped after SIGKILL", pid)
	}
}

// =============================================================================
// VERSION PROBE
// =============================================================================

// probeTimeout bounds the version probe.
const probeTimeout = 10 * time.Second

// VersionProbe runs the binary with --version and records the reported
// tag. The result is cached on the supervisor.
func (s *Supervisor) VersionProbe(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.binPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("version probe: %w", err)
	}

	version := parseVersion(string(out))
	if version == "" {
		return "", fmt.Errorf("version probe: unrecognised output %q", strings.TrimSpace(string(out)))
	}

	s.mu.Lock()
	s.version = version
	s.mu.Unlock()
	return version, nil
}

// Version returns the last probed version tag, if any.
func (s *Supervisor) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// parseVersion extracts the version token from `ollama version is X.Y.Z`
// style output.
func parseVersion(out string) string {
	fields := strings.Fields(out)
	for i := len(fields) - 1; i >= 0; i-- {
		f := strings.TrimPrefix(fields[i], "v")
		if len(f) > 0 && f[0] >= '0' && f[0] <= '9' && strings.Contains(f, ".") {
			return f
		}
	}
	return ""
}
