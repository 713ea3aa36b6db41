//go:build unix

package runner

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/dovetail/internal/logging"
)

func newTestRunner(opts ...Option) *Exec {
	return New(append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func TestInvokeSuccess(t *testing.T) {
	r := newTestRunner()
	out := r.Invoke(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo hello; echo oops >&2"},
	})

	require.NoError(t, out.Err)
	assert.True(t, out.Success())
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)
	assert.False(t, out.TimedOut)
	assert.False(t, out.Truncated)
}

func TestInvokeNonZeroExit(t *testing.T) {
	r := newTestRunner()
	out := r.Invoke(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo failing >&2; exit 7"}})

	require.NoError(t, out.Err)
	assert.False(t, out.Success())
	assert.Equal(t, 7, out.ExitCode)
	assert.Contains(t, out.Stderr, "failing")
}

func TestInvokeMissingBinary(t *testing.T) {
	r := newTestRunner()
	out := r.Invoke(context.Background(), Command{Name: "/nonexistent/dovetail-tool"})

	assert.Error(t, out.Err)
	assert.Equal(t, -1, out.ExitCode)
	assert.False(t, out.Success())
}

func TestInvokeTruncatesToTail(t *testing.T) {
	r := newTestRunner()
	out := r.Invoke(context.Background(), Command{
		Name:        "sh",
		Args:        []string{"-c", "i=0; while [ $i -lt 200 ]; do echo line$i >&2; i=$((i+1)); done"},
		StderrLimit: 64,
	})

	require.True(t, out.Success())
	assert.True(t, out.Truncated)
	assert.LessOrEqual(t, len(out.Stderr), 64)
	assert.True(t, strings.HasSuffix(out.Stderr, "line199\n"), "tail kept: %q", out.Stderr)
}

func TestInvokeStderrTapSeesEverything(t *testing.T) {
	var tap strings.Builder
	r := newTestRunner()
	out := r.Invoke(context.Background(), Command{
		Name:        "sh",
		Args:        []string{"-c", "echo first >&2; echo second >&2"},
		StderrLimit: 8,
		StderrTap:   &tap,
	})

	require.True(t, out.Success())
	assert.Equal(t, "first\nsecond\n", tap.String())
}

func TestInvokeTimeoutKillsProcessGroup(t *testing.T) {
	r := newTestRunner(WithGrace(500 * time.Millisecond))
	start := time.Now()
	out := r.Invoke(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "sleep 30 & echo $!; wait"},
		Timeout: 300 * time.Millisecond,
	})

	assert.True(t, out.TimedOut)
	assert.False(t, out.Success())
	assert.Less(t, time.Since(start), 10*time.Second)

	pid, err := strconv.Atoi(strings.TrimSpace(out.Stdout))
	require.NoError(t, err, "stdout: %q", out.Stdout)
	assertGone(t, int32(pid))
}

func TestInvokeEscalatesToKill(t *testing.T) {
	r := newTestRunner(WithGrace(200 * time.Millisecond))
	out := r.Invoke(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "trap '' TERM; echo $$; while :; do sleep 0.05; done"},
		Timeout: 200 * time.Millisecond,
	})

	assert.True(t, out.TimedOut)
	pid, err := strconv.Atoi(strings.TrimSpace(out.Stdout))
	require.NoError(t, err)
	assertGone(t, int32(pid))
}

func TestInvokeContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	r := newTestRunner(WithGrace(500 * time.Millisecond))
	out := r.Invoke(ctx, Command{Name: "sleep", Args: []string{"30"}})

	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.False(t, out.TimedOut)
	assert.False(t, out.Success())
}

func TestInvokeWorkingDir(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner()
	out := r.Invoke(context.Background(), Command{Name: "pwd", Dir: dir})

	require.True(t, out.Success())
	got, err := os.Stat(strings.TrimSpace(out.Stdout))
	require.NoError(t, err)
	want, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, os.SameFile(got, want))
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "ffmpeg", Args: []string{"-i", "my clip.mov", "-f", "hevc", "out.hevc"}}
	assert.Equal(t, "ffmpeg -i 'my clip.mov' -f hevc out.hevc", c.String())
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(5)
	_, _ = b.Write([]byte("abc"))
	assert.False(t, b.Truncated())
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "cdefg", b.String())
	assert.True(t, b.Truncated())
	_, _ = b.Write([]byte("0123456789"))
	assert.Equal(t, "56789", b.String())
}

// assertGone waits briefly for pid to disappear. A zombie awaiting reaping by init counts as gone.
func assertGone(t *testing.T, pid int32) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		exists, err := process.PidExists(pid)
		if err == nil && !exists {
			return
		}
		if p, err := process.NewProcess(pid); err == nil {
			if status, err := p.Status(); err == nil && len(status) > 0 && status[0] == process.Zombie {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("process %d still running after invoke returned", pid)
}
