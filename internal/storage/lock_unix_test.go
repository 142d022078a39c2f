//go:build !windows

package storage

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestIsContention(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"would block", unix.EWOULDBLOCK, true},
		{"again", unix.EAGAIN, true},
		{"wrapped would block", fmt.Errorf("flock: %w", unix.EWOULDBLOCK), true},
		{"bad descriptor", unix.EBADF, false},
		{"no locks available", unix.ENOLCK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isContention(tt.err); got != tt.want {
				t.Errorf("isContention(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
