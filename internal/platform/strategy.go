package platform

import (
	"regexp"
	"sort"
	"strconv"
)

// ProcessPrefix is shared by every language server binary name.
const ProcessPrefix = "language_server"

// ProcessInfo describes a running language server as read from its command line.
type ProcessInfo struct {
	PID             int    `json:"pid"`
	DeclaredPort    int    `json:"declaredPort,omitempty"`
	HasDeclaredPort bool   `json:"-"`
	CSRFToken       string `json:"csrfToken"`
}

// Messages holds user-facing diagnostics for a platform.
type Messages struct {
	ProcessNotFound     string
	CommandNotAvailable string
	Requirements        []string
}

// Strategy builds the enumeration commands for one OS family and parses
// their output. Parse methods never fail; they return false or an empty slice.
type Strategy interface {
	Name() string
	ProcessListCommand(name string) string
	ParseProcessInfo(output string) (ProcessInfo, bool)
	PortListCommand(pid int) string
	// ParseListeningPorts keeps only ports owned by pid.
	ParseListeningPorts(output string, pid int) []int
	// CandidateListCommand lists running binaries whose name starts with prefix.
	CandidateListCommand(prefix string) string
	Messages() Messages
}

var (
	declaredPortRegex = regexp.MustCompile(`--extension_server_port=(\d+)`)
	csrfTokenRegex    = regexp.MustCompile(`(?i)--csrf_token=([a-f0-9]+(?:-[a-f0-9]+)*)`)
)

// parseArgs extracts the token and declared port from a command line.
// It reports false when no token is present.
func parseArgs(cmdline string, pid int) (ProcessInfo, bool) {
	matches := csrfTokenRegex.FindStringSubmatch(cmdline)
	if matches == nil {
		return ProcessInfo{}, false
	}

	info := ProcessInfo{PID: pid, CSRFToken: matches[1]}
	if m := declaredPortRegex.FindStringSubmatch(cmdline); m != nil {
		if port, err := strconv.Atoi(m[1]); err == nil {
			info.DeclaredPort = port
			info.HasDeclaredPort = true
		}
	}
	return info, true
}

// ProcessNames extracts the distinct binary names starting with prefix from
// command output, sorted.
func ProcessNames(output, prefix string) []string {
	re := regexp.MustCompile(regexp.QuoteMeta(prefix) + `[\w.\-]*`)
	seen := map[string]bool{}
	var names []string
	for _, name := range re.FindAllString(output, -1) {
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// portSet accumulates distinct ports.
type portSet map[int]bool

func (s portSet) add(raw string) {
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return
	}
	s[port] = true
}

func (s portSet) sorted() []int {
	ports := make([]int, 0, len(s))
	for p := range s {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}
