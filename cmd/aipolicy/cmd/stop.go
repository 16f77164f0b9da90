package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running aipolicy server",
	Long: `Send SIGTERM to the server recorded in ~/.aipolicy/server.pid and wait
up to ten seconds for it to exit before killing it.

Only HTTP servers write a PID file; a --stdio server ends with its input.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

const (
	stopPollInterval = 200 * time.Millisecond
	stopGracePeriod  = 10 * time.Second
)

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no PID file at %s, is the server running?", pidPath)
	}
	defer os.Remove(pidPath)

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if !processIsAlive(proc) {
		return fmt.Errorf("process %d is not running, removed stale PID file", pid)
	}

	fmt.Fprintf(os.Stderr, "Stopping aipolicy (PID %d)...\n", pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	if waitForExit(proc, stopGracePeriod) {
		fmt.Fprintln(os.Stderr, "Stopped.")
		return nil
	}

	fmt.Fprintf(os.Stderr, "Still running after %s, killing.\n", stopGracePeriod)
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}

// waitForExit polls until proc exits or timeout elapses.
func waitForExit(proc *os.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(stopPollInterval)
		if !processIsAlive(proc) {
			return true
		}
	}
	return false
}

// pidFilePath returns the standard location for the aipolicy PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".aipolicy", "server.pid")
	}
	return filepath.Join(os.TempDir(), "aipolicy-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// readPIDFile returns the PID stored at path, or 0.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
