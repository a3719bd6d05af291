package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/productdevbook/lsprobe/internal/platform"
	"github.com/productdevbook/lsprobe/internal/shell"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

const (
	psLine   = "user 4412 0.0 0.1 1 1 ? S 10:00 0:01 /opt/x/language_server_linux_x64 --extension_server_port=2873 --csrf_token=ab12cd34-ef56\n"
	lsofDump = "COMMAND PID USER FD TYPE DEVICE SIZE/OFF NODE NAME\n" +
		"language_ 4412 user 12u IPv4 0x1 0t0 TCP 127.0.0.1:9001 (LISTEN)\n" +
		"language_ 4412 user 13u IPv4 0x2 0t0 TCP 127.0.0.1:8000 (LISTEN)\n"
)

type result struct {
	out string
	err error
}

// remaining is how long ctx had left when a fake was called, or -1 without
// a deadline.
func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return -1
	}
	return time.Until(deadline)
}

// fakeRunner answers each command kind from a per-attempt script.
type fakeRunner struct {
	process    []result
	ports      []result
	candidates result
	calls      []string
	nProc      int
	nPorts     int

	procBudgets []time.Duration
	portBudgets []time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, command string) (string, error) {
	f.calls = append(f.calls, command)
	switch {
	case strings.HasPrefix(command, "ps aux"):
		f.procBudgets = append(f.procBudgets, remaining(ctx))
		r := f.process[min(f.nProc, len(f.process)-1)]
		f.nProc++
		return r.out, r.err
	case strings.HasPrefix(command, "ps -eo"):
		return f.candidates.out, f.candidates.err
	}
	f.portBudgets = append(f.portBudgets, remaining(ctx))
	r := f.ports[min(f.nPorts, len(f.ports)-1)]
	f.nPorts++
	return r.out, r.err
}

type fakeProber struct {
	ok      map[int]bool
	probed  []int
	tokens  []string
	budgets []time.Duration
}

func (f *fakeProber) Probe(ctx context.Context, port int, token string) error {
	f.budgets = append(f.budgets, remaining(ctx))
	f.probed = append(f.probed, port)
	f.tokens = append(f.tokens, token)
	if f.ok[port] {
		return nil
	}
	return &StatusError{Port: port, Code: 401}
}

type sleepRecorder struct{ delays []time.Duration }

func (s *sleepRecorder) sleep(d time.Duration) { s.delays = append(s.delays, d) }

func newTestDetector(r Runner, p Prober, s *sleepRecorder) (*Detector, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	d := New(platform.NewDetector("linux", "amd64", language.English), Options{
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Runner:     r,
		Prober:     p,
		Logger:     logger,
		Sleep:      s.sleep,
	})
	return d, hook
}

func TestDetectRecoversOnSecondAttempt(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{out: "user 4412 0.0 0.1 /opt/x/language_server_linux_x64\n"}, {out: psLine}},
		ports:   []result{{out: lsofDump}},
	}
	prober := &fakeProber{ok: map[int]bool{8000: true}}
	sleeper := &sleepRecorder{}
	d, _ := newTestDetector(runner, prober, sleeper)

	creds, ok := d.Detect()
	require.True(t, ok)
	assert.Equal(t, Credentials{ExtensionPort: 2873, ConnectPort: 8000, CSRFToken: "ab12cd34-ef56"}, creds)
	assert.Equal(t, 2, runner.nProc, "third attempt must not start")
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeper.delays)
	assert.Equal(t, []string{"ab12cd34-ef56"}, prober.tokens)
}

func TestDetectNoPortsExhaustsRetries(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{out: psLine}},
		ports:   []result{{out: "nothing useful here\n"}},
	}
	prober := &fakeProber{}
	sleeper := &sleepRecorder{}
	d, hook := newTestDetector(runner, prober, sleeper)

	_, ok := d.Detect()
	assert.False(t, ok)
	assert.Equal(t, 3, runner.nProc)
	assert.Equal(t, 3, runner.nPorts)
	assert.Len(t, sleeper.delays, 2)
	assert.Empty(t, prober.probed)

	var warnings []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.HasPrefix(e.Message, "1. ") {
			warnings = append(warnings, e.Message)
		}
	}
	assert.Len(t, warnings, 1, "remediation checklist is emitted once")
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestDetectPortCommandFailureDegradesToNoPorts(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{out: psLine}},
		ports:   []result{{err: &shell.ExitError{Code: 1}}},
	}
	sleeper := &sleepRecorder{}
	d, hook := newTestDetector(runner, &fakeProber{}, sleeper)

	_, ok := d.Detect()
	assert.False(t, ok)
	assert.Len(t, sleeper.delays, 2)

	found := false
	for _, e := range hook.AllEntries() {
		if err, isErr := e.Data[logrus.ErrorKey].(error); isErr && errors.Is(err, ErrNoListeningPorts) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetectProbesInOrderAndShortCircuits(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{out: psLine}},
		ports: []result{{out: "TCP 127.0.0.1:9500 (LISTEN)\n" +
			"TCP 127.0.0.1:9001 (LISTEN)\n" +
			"TCP 127.0.0.1:8000 (LISTEN)\n"}},
	}
	prober := &fakeProber{ok: map[int]bool{9001: true, 9500: true}}
	sleeper := &sleepRecorder{}
	d, _ := newTestDetector(runner, prober, sleeper)

	creds, ok := d.Detect()
	require.True(t, ok)
	assert.Equal(t, 9001, creds.ConnectPort)
	assert.Equal(t, []int{8000, 9001}, prober.probed)
	assert.Empty(t, sleeper.delays)
}

func TestDetectNoWorkingPortRetries(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{out: psLine}},
		ports:   []result{{out: lsofDump}},
	}
	prober := &fakeProber{}
	sleeper := &sleepRecorder{}
	d, _ := newTestDetector(runner, prober, sleeper)

	_, ok := d.Detect()
	assert.False(t, ok)
	assert.Equal(t, []int{8000, 9001, 8000, 9001, 8000, 9001}, prober.probed)
	assert.Len(t, sleeper.delays, 2)
}

func TestDetectCommandUnavailable(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{err: fmt.Errorf("%w: sh: ps: not found", shell.ErrUnavailable)}},
	}
	sleeper := &sleepRecorder{}
	d, hook := newTestDetector(runner, &fakeProber{}, sleeper)

	_, ok := d.Detect()
	assert.False(t, ok)
	assert.Equal(t, 0, runner.nPorts)

	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == d.Messages().CommandNotAvailable {
			found = true
		}
	}
	assert.True(t, found)
}

func assertBudgets(t *testing.T, want time.Duration, got []time.Duration) {
	t.Helper()
	require.NotEmpty(t, got)
	for _, d := range got {
		assert.LessOrEqual(t, d, want)
		assert.Greater(t, d, want-500*time.Millisecond)
	}
}

func TestDetectStepTimeouts(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{out: psLine}},
		ports:   []result{{out: lsofDump}},
	}
	prober := &fakeProber{}
	d, _ := newTestDetector(runner, prober, &sleepRecorder{})

	_, ok := d.Detect()
	assert.False(t, ok)

	assertBudgets(t, 5*time.Second, runner.procBudgets)
	assertBudgets(t, 3*time.Second, runner.portBudgets)
	assertBudgets(t, 2*time.Second, prober.budgets)
	assert.Len(t, prober.budgets, 6)
}

func TestDetectWithoutDeclaredPort(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{out: "user 4412 0.0 0.1 /opt/x/language_server_linux_x64 --csrf_token=ab12\n"}},
		ports:   []result{{out: "TCP 127.0.0.1:8000 (LISTEN)\n"}},
	}
	d, _ := newTestDetector(runner, &fakeProber{ok: map[int]bool{8000: true}}, &sleepRecorder{})

	creds, ok := d.Detect()
	require.True(t, ok)
	assert.Zero(t, creds.ExtensionPort)
	assert.Equal(t, 8000, creds.ConnectPort)
}

func TestScan(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{out: psLine}},
		ports:   []result{{out: lsofDump}},
	}
	d, _ := newTestDetector(runner, &fakeProber{}, &sleepRecorder{})

	listing, err := d.Scan()
	require.NoError(t, err)
	assert.Equal(t, 4412, listing.Process.PID)
	assert.Equal(t, []int{8000, 9001}, listing.Ports)
	assert.Contains(t, runner.calls[0], "'language_server_linux_x64'")
	assert.Contains(t, runner.calls[1], "-p 4412")
}

func TestScanErrors(t *testing.T) {
	runner := &fakeRunner{
		process: []result{{err: &shell.ExitError{Code: 1}}},
	}
	d, _ := newTestDetector(runner, &fakeProber{}, &sleepRecorder{})
	_, err := d.Scan()
	assert.ErrorIs(t, err, ErrProcessNotFound)

	runner = &fakeRunner{
		process: []result{{out: psLine}},
		ports:   []result{{out: ""}},
	}
	d, _ = newTestDetector(runner, &fakeProber{}, &sleepRecorder{})
	listing, err := d.Scan()
	assert.ErrorIs(t, err, ErrNoListeningPorts)
	assert.Equal(t, 4412, listing.Process.PID)
	assert.Empty(t, listing.Ports)

	runner = &fakeRunner{
		process: []result{{err: fmt.Errorf("%w: ps aux", shell.ErrTimeout)}},
	}
	d, _ = newTestDetector(runner, &fakeProber{}, &sleepRecorder{})
	_, err = d.Scan()
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.ErrorIs(t, err, shell.ErrTimeout)
}

func TestSuggest(t *testing.T) {
	runner := &fakeRunner{candidates: result{out: "/opt/x/language_server_linux_arm --csrf_token=ab12\n" +
		"/opt/x/language_server_linux_x64 --csrf_token=cd34\n" +
		"/Applications/IDE.app/language_server_macos_arm\n" +
		"/opt/y/language_server_linux_arm\n"}}
	d, _ := newTestDetector(runner, &fakeProber{}, &sleepRecorder{})

	got, err := d.Suggest()
	require.NoError(t, err)
	assert.Equal(t, []string{"language_server_linux_arm"}, got)
	assert.Equal(t, "ps -eo args= | grep -- 'language_server' | grep -v grep", runner.calls[0])
}

func TestSuggestRanksFamilyMatches(t *testing.T) {
	runner := &fakeRunner{candidates: result{out: "/opt/language_server_linux_arm\n/opt/language_server_windows_x64.exe\n/opt/language_server_linux\n"}}
	logger, _ := test.NewNullLogger()
	p := platform.NewDetector("linux", "amd64", language.English).WithProcessName("language_server_custom")
	d := New(p, Options{Runner: runner, Prober: &fakeProber{}, Logger: logger})

	got, err := d.Suggest()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"language_server_linux", "language_server_linux_arm"}, got)
}

func TestSuggestNothingRunning(t *testing.T) {
	runner := &fakeRunner{candidates: result{err: &shell.ExitError{Code: 1}}}
	d, _ := newTestDetector(runner, &fakeProber{}, &sleepRecorder{})

	got, err := d.Suggest()
	require.NoError(t, err)
	assert.Empty(t, got)

	runner = &fakeRunner{candidates: result{err: fmt.Errorf("%w: ps", shell.ErrUnavailable)}}
	d, _ = newTestDetector(runner, &fakeProber{}, &sleepRecorder{})
	_, err = d.Suggest()
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestNewDefaults(t *testing.T) {
	d := New(platform.NewDetector("linux", "amd64", language.English), Options{})
	assert.Equal(t, DefaultMaxRetries, d.maxRetries)
	assert.Equal(t, DefaultRetryDelay, d.retryDelay)
	assert.IsType(t, &shell.Runner{}, d.runner)
	assert.IsType(t, &HTTPSProber{}, d.prober)
}
