package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/productdevbook/lsprobe/internal/platform"
	"github.com/productdevbook/lsprobe/internal/shell"
	"github.com/sahilm/fuzzy"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second

	processListTimeout = 5 * time.Second
	portListTimeout    = 3 * time.Second
	probeTimeout       = 2 * time.Second
)

var (
	ErrProcessNotFound  = errors.New("language server process not found")
	ErrNoListeningPorts = errors.New("no loopback listening ports found")
	ErrNoWorkingPort    = errors.New("no candidate port answered the probe")
	ErrCommandFailed    = errors.New("enumeration command failed")
)

// Credentials is everything a client needs to call the language server.
type Credentials struct {
	ExtensionPort int    `json:"extensionPort"`
	ConnectPort   int    `json:"connectPort"`
	CSRFToken     string `json:"csrfToken"`
}

// Listing is the result of one enumeration pass, before any probing.
type Listing struct {
	Process platform.ProcessInfo `json:"process"`
	Ports   []int                `json:"ports"`
}

// Runner executes a shell command string and returns its stdout.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Prober checks whether a port serves the language server API.
type Prober interface {
	Probe(ctx context.Context, port int, token string) error
}

// Options configures a Detector. Zero values select the defaults.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	Runner     Runner
	Prober     Prober
	Logger     logrus.FieldLogger
	Sleep      func(time.Duration)
}

// Detector finds the language server and its working API port.
type Detector struct {
	platform   *platform.Detector
	strategy   platform.Strategy
	maxRetries int
	retryDelay time.Duration
	runner     Runner
	prober     Prober
	log        logrus.FieldLogger
	sleep      func(time.Duration)
}

// New returns a Detector for the given platform.
func New(p *platform.Detector, opts Options) *Detector {
	d := &Detector{
		platform:   p,
		strategy:   p.Strategy(),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		runner:     opts.Runner,
		prober:     opts.Prober,
		log:        opts.Logger,
		sleep:      opts.Sleep,
	}
	if d.maxRetries <= 0 {
		d.maxRetries = DefaultMaxRetries
	}
	if d.retryDelay <= 0 {
		d.retryDelay = DefaultRetryDelay
	}
	if d.runner == nil {
		d.runner = shell.New()
	}
	if d.prober == nil {
		d.prober = NewHTTPSProber()
	}
	if d.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		d.log = l
	}
	if d.sleep == nil {
		d.sleep = time.Sleep
	}
	return d
}

// Messages returns the localized diagnostics for the selected platform.
func (d *Detector) Messages() platform.Messages {
	return d.strategy.Messages()
}

// Detect runs up to MaxRetries attempts and returns the credentials of the
// first attempt whose probe succeeds. It reports false once every attempt
// has failed; failures are only visible through the logger.
func (d *Detector) Detect() (Credentials, bool) {
	d.log.WithFields(logrus.Fields{
		"platform": d.platform.Label(),
		"process":  d.platform.ProcessName(),
	}).Info("Detecting language server")

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		log := d.log.WithField("attempt", fmt.Sprintf("%d/%d", attempt, d.maxRetries))

		creds, err := d.attempt(log)
		if err == nil {
			log.WithField("port", creds.ConnectPort).Info("Language server API found")
			return creds, true
		}
		d.logFailure(log, err)

		if attempt < d.maxRetries {
			log.Debugf("Retrying in %s", d.retryDelay)
			d.sleep(d.retryDelay)
		}
	}

	msgs := d.strategy.Messages()
	d.log.Error(msgs.ProcessNotFound)
	for i, req := range msgs.Requirements {
		d.log.Warnf("%d. %s", i+1, req)
	}
	return Credentials{}, false
}

// Scan runs a single enumeration pass without probing. On
// ErrNoListeningPorts the returned Listing still carries the process.
func (d *Detector) Scan() (Listing, error) {
	return d.scan(d.log)
}

// Suggest lists running language server binaries of the same OS family
// whose name differs from the expected one, best fuzzy match first.
func (d *Detector) Suggest() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), processListTimeout)
	defer cancel()

	command := d.strategy.CandidateListCommand(platform.ProcessPrefix)
	d.log.WithField("command", command).Debug("Listing candidate processes")

	output, err := d.runner.Run(ctx, command)
	if err != nil {
		var exitErr *shell.ExitError
		if errors.As(err, &exitErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	want := d.platform.ProcessName()
	var names []string
	for _, name := range platform.ProcessNames(output, platform.ProcessPrefix) {
		if name != want {
			names = append(names, name)
		}
	}

	var suggestions []string
	for _, m := range fuzzy.Find(d.platform.ProcessFamily(), names) {
		suggestions = append(suggestions, m.Str)
	}
	return suggestions, nil
}

func (d *Detector) attempt(log logrus.FieldLogger) (Credentials, error) {
	listing, err := d.scan(log)
	if err != nil {
		return Credentials{}, err
	}

	port, err := d.probe(log, listing.Ports, listing.Process.CSRFToken)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{
		ExtensionPort: listing.Process.DeclaredPort,
		ConnectPort:   port,
		CSRFToken:     listing.Process.CSRFToken,
	}, nil
}

func (d *Detector) scan(log logrus.FieldLogger) (Listing, error) {
	info, err := d.findProcess(log)
	if err != nil {
		return Listing{}, err
	}

	ports := d.listPorts(log, info.PID)
	if len(ports) == 0 {
		return Listing{Process: info}, fmt.Errorf("pid %d: %w", info.PID, ErrNoListeningPorts)
	}
	return Listing{Process: info, Ports: ports}, nil
}

func (d *Detector) findProcess(log logrus.FieldLogger) (platform.ProcessInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), processListTimeout)
	defer cancel()

	command := d.strategy.ProcessListCommand(d.platform.ProcessName())
	log.WithField("command", command).Debug("Listing processes")

	output, err := d.runner.Run(ctx, command)
	if err != nil {
		if errors.Is(err, shell.ErrTimeout) || errors.Is(err, shell.ErrUnavailable) {
			return platform.ProcessInfo{}, fmt.Errorf("%w: %w", ErrCommandFailed, err)
		}
		// grep exits 1 when nothing matched
		return platform.ProcessInfo{}, fmt.Errorf("%w: %w", ErrProcessNotFound, err)
	}

	info, ok := d.strategy.ParseProcessInfo(output)
	if !ok {
		return platform.ProcessInfo{}, ErrProcessNotFound
	}

	entry := log.WithField("pid", info.PID)
	if info.HasDeclaredPort {
		entry = entry.WithField("extension_port", info.DeclaredPort)
	}
	entry.Info("Found language server process")
	return info, nil
}

// listPorts never fails: a failing command degrades to an empty set.
func (d *Detector) listPorts(log logrus.FieldLogger, pid int) []int {
	ctx, cancel := context.WithTimeout(context.Background(), portListTimeout)
	defer cancel()

	command := d.strategy.PortListCommand(pid)
	log.WithField("command", command).Debug("Listing ports")

	output, err := d.runner.Run(ctx, command)
	if err != nil {
		log.WithError(err).Debug("Port listing failed")
		return nil
	}

	ports := d.strategy.ParseListeningPorts(output, pid)
	log.WithField("ports", ports).Debug("Candidate ports")
	return ports
}

// probe tries ports in order and stops at the first success.
func (d *Detector) probe(log logrus.FieldLogger, ports []int, token string) (int, error) {
	for _, port := range ports {
		if err := d.probeOne(port, token); err != nil {
			log.WithField("port", port).WithError(err).Debug("Probe failed")
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("tried %v: %w", ports, ErrNoWorkingPort)
}

func (d *Detector) probeOne(port int, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return d.prober.Probe(ctx, port, token)
}

func (d *Detector) logFailure(log logrus.FieldLogger, err error) {
	msgs := d.strategy.Messages()
	switch {
	case errors.Is(err, ErrCommandFailed):
		log.WithError(err).Warn(msgs.CommandNotAvailable)
	case errors.Is(err, ErrProcessNotFound):
		log.WithError(err).Warn(msgs.ProcessNotFound)
	default:
		log.WithError(err).Warn("Attempt failed")
	}
}
