package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID starts a short-lived child, reaps it and returns its pid. The pid
// is almost certainly unused for the remainder of the test.
func deadPID(t *testing.T) int64 {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return int64(cmd.Process.Pid)
}

func TestSystem_ExistsSelf(t *testing.T) {
	o := NewSystemOracle()
	assert.True(t, o.Exists(int64(os.Getpid())))
}

func TestSystem_ExistsDead(t *testing.T) {
	o := NewSystemOracle()
	assert.False(t, o.Exists(deadPID(t)))
}

func TestSystem_ExistsOutOfRange(t *testing.T) {
	o := NewSystemOracle()
	assert.False(t, o.Exists(0))
	assert.False(t, o.Exists(-5))
	assert.False(t, o.Exists(1<<40))
}

// TestSystem_StartTimeStable verifies the fingerprint of a live process is
// non-zero and does not drift between calls.
func TestSystem_StartTimeStable(t *testing.T) {
	o := NewSystemOracle()
	pid := int64(os.Getpid())

	first := o.StartTime(pid)
	require.NotZero(t, first)
	assert.Equal(t, first, o.StartTime(pid))
}

// shiftedProc mirrors /proc into a temp dir, except that uptime reports the
// boot as shift seconds longer ago. To a container guest this looks the same
// as the wall clock stepping forward by shift.
func shiftedProc(t *testing.T, shift float64) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("requires procfs")
	}

	raw, err := os.ReadFile("/proc/uptime")
	require.NoError(t, err)
	fields := strings.Fields(string(raw))
	require.NotEmpty(t, fields)
	uptime, err := strconv.ParseFloat(fields[0], 64)
	require.NoError(t, err)

	dir := t.TempDir()
	entries, err := os.ReadDir("/proc")
	require.NoError(t, err)
	for _, e := range entries {
		if e.Name() == "uptime" {
			continue
		}
		require.NoError(t, os.Symlink(filepath.Join("/proc", e.Name()), filepath.Join(dir, e.Name())))
	}
	fields[0] = strconv.FormatFloat(uptime+shift, 'f', 2, 64)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uptime"), []byte(strings.Join(fields, " ")+"\n"), 0o644))
	return dir
}

// TestSystem_StartTimeSurvivesClockStep verifies a live process keeps its
// fingerprint when the boot time derived from the clock moves, so its lease
// is not reclaimed while it still runs.
func TestSystem_StartTimeSurvivesClockStep(t *testing.T) {
	o := NewSystemOracle()
	pid := int64(os.Getpid())

	before := o.StartTime(pid)
	require.NotZero(t, before)

	t.Setenv("HOST_PROC", shiftedProc(t, 5.5))

	require.True(t, o.Exists(pid))
	assert.Equal(t, before, o.StartTime(pid))
}

func TestSystem_StartTimeDead(t *testing.T) {
	o := NewSystemOracle()
	assert.Zero(t, o.StartTime(deadPID(t)))
	assert.Zero(t, o.StartTime(-1))
}

func TestShouldAdmit(t *testing.T) {
	fake := NewFake()
	fake.Spawn(1)
	fake.Spawn(4242)

	tests := map[string]struct {
		pid  int64
		want bool
	}{
		"zero pid":        {pid: 0, want: false},
		"negative pid":    {pid: -3, want: false},
		"init is refused": {pid: 1, want: false},
		"dead pid":        {pid: 777, want: false},
		"live pid":        {pid: 4242, want: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldAdmit(fake, tc.pid))
		})
	}
}

func TestShouldAdmit_System(t *testing.T) {
	o := NewSystemOracle()
	assert.True(t, ShouldAdmit(o, int64(os.Getpid())))
	assert.False(t, ShouldAdmit(o, 1))
	assert.False(t, ShouldAdmit(o, deadPID(t)))
}

func TestFake_Recycle(t *testing.T) {
	fake := NewFake()
	first := fake.Spawn(99)
	second := fake.Recycle(99)

	assert.True(t, fake.Exists(99))
	assert.NotEqual(t, first, second)

	fake.Kill(99)
	assert.False(t, fake.Exists(99))
	assert.Zero(t, fake.StartTime(99))
}

func TestSystem_Cmdline(t *testing.T) {
	o := NewSystemOracle()
	assert.NotEmpty(t, o.Cmdline(int64(os.Getpid())))
	assert.Empty(t, o.Cmdline(0))
}
