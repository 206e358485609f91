package process

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bash(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("bash-based tests require a POSIX shell")
	}
	return "/bin/bash"
}

func TestRunCapturesCombinedOutput(t *testing.T) {
	e := New()
	out, err := e.Run(context.Background(), t.TempDir(), nil, 0, 0, BashCommand(bash(t), "echo out; echo err 1>&2", true))
	require.NoError(t, err)
	assert.Contains(t, string(out), "out")
	assert.Contains(t, string(out), "err")
}

func TestRunReportsNonZeroExitAsStepFailure(t *testing.T) {
	e := New()
	_, err := e.Run(context.Background(), t.TempDir(), nil, 0, 0, BashCommand(bash(t), "exit 7", true))
	require.Error(t, err)
	var failure *StepFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 7, failure.Exit)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, t.TempDir(), nil, 0, 50*time.Millisecond, BashCommand(bash(t), "sleep 30", true))
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunEnforcesTimeout(t *testing.T) {
	e := New()
	start := time.Now()
	_, err := e.Run(context.Background(), t.TempDir(), nil, 100*time.Millisecond, 50*time.Millisecond, BashCommand(bash(t), "sleep 30", true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunPassesEnvironment(t *testing.T) {
	e := New()
	out, err := e.Run(context.Background(), t.TempDir(), []string{"FOO=bar"}, 0, 0, BashCommand(bash(t), "echo $FOO", true))
	require.NoError(t, err)
	assert.Equal(t, "bar", strings.TrimSpace(string(out)))
}

func TestBashCommandWrapsWithSetE(t *testing.T) {
	argv := BashCommand("/bin/bash", "false", true)
	require.Len(t, argv, 3)
	assert.Contains(t, argv[2], "set -e")
}
