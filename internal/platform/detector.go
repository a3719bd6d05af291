package platform

import (
	"runtime"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Detector resolves the strategy and process name for one OS/arch pair.
// The strategy is built once and reused for the lifetime of the Detector.
type Detector struct {
	goos   string
	goarch string
	lang   language.Tag
	name   string

	once     sync.Once
	strategy Strategy
}

// NewDetector returns a Detector for the given platform.
func NewDetector(goos, goarch string, lang language.Tag) *Detector {
	return &Detector{goos: goos, goarch: goarch, lang: lang}
}

// Host returns a Detector for the running OS.
func Host(lang language.Tag) *Detector {
	return NewDetector(runtime.GOOS, runtime.GOARCH, lang)
}

// Strategy returns the windows strategy on Windows and the unix one elsewhere.
func (d *Detector) Strategy() Strategy {
	d.once.Do(func() {
		printer := message.NewPrinter(d.lang)
		if d.goos == "windows" {
			d.strategy = &windowsStrategy{processName: d.ProcessName(), printer: printer}
			return
		}
		d.strategy = &unixStrategy{processName: d.ProcessName(), label: d.Label(), printer: printer}
	})
	return d.strategy
}

// WithProcessName overrides the canonical binary name. It must be called
// before Strategy.
func (d *Detector) WithProcessName(name string) *Detector {
	d.name = name
	return d
}

// ProcessName returns the language server binary name for this platform.
func (d *Detector) ProcessName() string {
	if d.name != "" {
		return d.name
	}
	arm := d.goarch == "arm64" || d.goarch == "arm"
	switch d.goos {
	case "windows":
		return "language_server_windows_x64.exe"
	case "darwin":
		if arm {
			return "language_server_macos_arm"
		}
		return "language_server_macos"
	default:
		if arm {
			return "language_server_linux_arm"
		}
		return "language_server_linux_x64"
	}
}

// ProcessFamily is the binary name without the architecture suffix, shared
// by every build of the language server for this OS.
func (d *Detector) ProcessFamily() string {
	switch d.goos {
	case "windows":
		return ProcessPrefix + "_windows"
	case "darwin":
		return ProcessPrefix + "_macos"
	case "linux":
		return ProcessPrefix + "_linux"
	default:
		return ProcessPrefix
	}
}

// Label is a human-readable platform name.
func (d *Detector) Label() string {
	switch d.goos {
	case "windows":
		return "Windows"
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	default:
		return d.goos
	}
}
