//go:build !windows

package proc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLaunchCapturesOutputAndExit(t *testing.T) {
	r := &Runner{}
	h, err := r.Launch(Spec{Name: "echo", Command: "/bin/sh", Args: []string{"-c", "echo hello; echo oops >&2"}})
	require.NoError(t, err)
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	require.NoError(t, h.ExitErr())
	require.False(t, h.Running())
	lines, next := h.Logs(0)
	require.Len(t, lines, 2)
	require.Equal(t, 2, next)
	require.Contains(t, lines, "[out] hello")
	require.Contains(t, lines, "[err] oops")
	// incremental read from the returned offset is empty
	more, next2 := h.Logs(next)
	require.Empty(t, more)
	require.Equal(t, next, next2)
}

func TestLaunchMissingExecutable(t *testing.T) {
	r := &Runner{}
	_, err := r.Launch(Spec{Name: "nope", Command: "/definitely/not/here"})
	require.Error(t, err)
	_, err = r.Launch(Spec{Name: "empty"})
	require.Error(t, err)
}

func TestNonZeroExitReported(t *testing.T) {
	r := &Runner{}
	h, err := r.Launch(Spec{Name: "fail", Command: "/bin/sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	require.Error(t, h.ExitErr())
}

func TestStopTerminatesSleeper(t *testing.T) {
	r := &Runner{}
	h, err := r.Launch(Spec{Name: "sleeper", Command: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)
	require.True(t, h.Running())
	start := time.Now()
	require.NoError(t, h.Stop(2*time.Second))
	require.Less(t, time.Since(start), 5*time.Second)
	require.False(t, h.Running())
	// idempotent on a dead process
	require.NoError(t, h.Stop(time.Second))
	require.NoError(t, h.Kill())
}

func TestKillTerminatesIgnoringTERM(t *testing.T) {
	r := &Runner{}
	h, err := r.Launch(Spec{Name: "stubborn", Command: "/bin/sh", Args: []string{"-c", "trap '' TERM; sleep 30"}})
	require.NoError(t, err)
	// give the shell a moment to install the trap
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.Stop(500*time.Millisecond))
	require.False(t, h.Running())
}

func TestLogsOffsetSurvivesTrim(t *testing.T) {
	r := &Runner{}
	h, err := r.Launch(Spec{Name: "chatty", Command: "/bin/sh", Args: []string{"-c", "i=0; while [ $i -lt 1200 ]; do echo line$i; i=$((i+1)); done"}})
	require.NoError(t, err)
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
	lines, next := h.Logs(0)
	require.Len(t, lines, maxCapturedLines)
	require.Equal(t, 1200, next)
	require.Equal(t, "[out] line200", lines[0])
	// offset pointing into the trimmed region starts at the oldest kept line
	older, _ := h.Logs(100)
	require.Equal(t, lines[0], older[0])
}
