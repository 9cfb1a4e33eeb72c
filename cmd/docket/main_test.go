// File: cmd/docket/main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/docket-cli/internal/config"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: 0},
		{name: "interrupted", err: fmt.Errorf("case 2 of 3: %w", context.Canceled), want: 0},
		{name: "invalid configuration", err: fmt.Errorf("%w: dw-batch-size", config.ErrInvalidConfiguration), want: 1},
		{name: "deadline", err: context.DeadlineExceeded, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	var written []byte
	var code int
	osWriteFile = func(name string, data []byte, perm os.FileMode) error {
		assert.Equal(t, panicLogFile, name)
		written = data
		return nil
	}
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("window registry corrupted")
	}()

	assert.Equal(t, 2, code)
	require.NotEmpty(t, written)
	assert.Contains(t, string(written), "panic: window registry corrupted")
	assert.Contains(t, string(written), "goroutine")
}

func TestHandlePanic_WriteFails(t *testing.T) {
	defer resetMocks()

	var code int
	osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("boom")
	}()
	assert.Equal(t, 2, code)
}

func TestHandlePanic_NoPanic(t *testing.T) {
	defer resetMocks()

	called := false
	osExit = func(int) { called = true }
	func() {
		defer handlePanic()
	}()
	assert.False(t, called)
}
