// Package pty provides the pseudo-terminal plumbing behind interactive
// sessions: a tty pair with UTF-8-safe reads, and a PTY-backed child process
// with idle-batched output accumulation.
package pty

import (
	"fmt"
	"os"
	"sync"
	"unicode/utf8"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Handle owns the two ends of a pseudo-terminal. The coordinator side is
// what the daemon reads and writes; the subprocess side becomes the child's
// controlling terminal.
type Handle struct {
	coordinator *os.File
	subprocess  *os.File

	// partial holds undecodable trailing bytes of a multi-byte character
	// split across reads.
	partial []byte

	cleanupOnce sync.Once
}

// Open allocates a tty pair and disables echo, canonical input and output
// processing on the coordinator side so the child's output arrives verbatim.
func Open() (*Handle, error) {
	coordinator, subprocess, err := creackpty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}

	fd := int(coordinator.Fd())
	attrs, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = coordinator.Close()
		_ = subprocess.Close()
		return nil, fmt.Errorf("get termios: %w", err)
	}
	attrs.Oflag &^= unix.OPOST
	attrs.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, attrs); err != nil {
		_ = coordinator.Close()
		_ = subprocess.Close()
		return nil, fmt.Errorf("set termios: %w", err)
	}

	return &Handle{coordinator: coordinator, subprocess: subprocess}, nil
}

// Subprocess returns the file for the child side of the pty.
func (h *Handle) Subprocess() *os.File {
	return h.subprocess
}

// Write sends bytes to the child through the coordinator side.
func (h *Handle) Write(p []byte) (int, error) {
	return h.coordinator.Write(p)
}

// Read returns up to n bytes of child output decoded as UTF-8. A multi-byte
// character split across reads is buffered until its remaining bytes arrive,
// so returned strings never end mid-character.
func (h *Handle) Read(n int) (string, error) {
	buf := make([]byte, n)
	m, err := h.coordinator.Read(buf)
	if m <= 0 {
		return "", err
	}

	data := buf[:m]
	if len(h.partial) > 0 {
		data = append(h.partial, data...)
		h.partial = nil
	}

	complete := completePrefixLen(data)
	if complete < len(data) {
		h.partial = append([]byte(nil), data[complete:]...)
	}
	return string(data[:complete]), nil
}

// completePrefixLen returns the length of the longest prefix of data that
// does not end in an incomplete UTF-8 sequence.
func completePrefixLen(data []byte) int {
	start := len(data)
	for start > 0 && len(data)-start < utf8.UTFMax {
		start--
		b := data[start]
		if b < utf8.RuneSelf || b >= 0xc0 {
			// Found the first byte of the final rune.
			if utf8.FullRune(data[start:]) {
				return len(data)
			}
			return start
		}
	}
	return len(data)
}

// CloseSubprocess releases the child side after the process has been started;
// the coordinator side then observes EOF (EIO) when the child exits.
func (h *Handle) CloseSubprocess() {
	if h.subprocess != nil {
		_ = h.subprocess.Close()
		h.subprocess = nil
	}
}

// Cleanup releases both sides of the pty. It is idempotent.
func (h *Handle) Cleanup() {
	h.cleanupOnce.Do(func() {
		_ = h.coordinator.Close()
		if h.subprocess != nil {
			_ = h.subprocess.Close()
		}
	})
}
