// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package devserver

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/ysmood/leakless"

	"github.com/forkbombeu/devrig/internal/config"
)

// Server is a dev-server child process owned by this rig. Unlike the
// emulator, the rig terminates a server it started when it exits.
type Server struct {
	cmd *exec.Cmd
}

// Start spawns the configured dev-server command in the working
// directory. The child is launched through leakless where supported so
// it cannot outlive a crashed rig.
func Start(cfg config.Config) (*Server, error) {
	fields := strings.Fields(cfg.DevServerCmd)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty dev server command")
	}

	var cmd *exec.Cmd
	if leakless.Support() {
		cmd = leakless.New().Command(fields[0], fields[1:]...)
	} else {
		cmd = exec.Command(fields[0], fields[1:]...)
	}
	cmd.Env = cfg.ChildEnv()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start dev server %q: %w", cfg.DevServerCmd, err)
	}
	slog.Info("dev server started", "cmd", cfg.DevServerCmd, "pid", cmd.Process.Pid)
	return &Server{cmd: cmd}, nil
}

// Stop terminates the dev server. Safe to call on a nil receiver so
// callers can defer it unconditionally.
func (s *Server) Stop() {
	if s == nil || s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Signal(os.Interrupt)
	_, _ = s.cmd.Process.Wait()
	slog.Info("dev server stopped", "pid", s.cmd.Process.Pid)
}
