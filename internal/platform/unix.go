package platform

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/message"
)

type unixStrategy struct {
	processName string
	label       string
	printer     *message.Printer
}

var (
	// lsof NAME column, e.g. "TCP 127.0.0.1:42100 (LISTEN)"
	lsofListenRegex = regexp.MustCompile(`(?i)TCP\s+(?:127\.0\.0\.1|localhost):(\d+)\s+\(LISTEN\)`)
	// ss and Linux netstat local address column
	colonLoopbackRegex = regexp.MustCompile(`^127\.0\.0\.1:(\d+)$`)
	// BSD netstat uses a dot before the port: "127.0.0.1.42100"
	dotLoopbackRegex = regexp.MustCompile(`^127\.0\.0\.1\.(\d+)$`)
)

func (s *unixStrategy) Name() string { return "unix" }

func (s *unixStrategy) ProcessListCommand(name string) string {
	return fmt.Sprintf("ps aux | grep -- %s | grep -v grep", shellQuote(name))
}

// ParseProcessInfo reads the first line of `ps aux` output.
// Columns: USER PID %CPU %MEM VSZ RSS TT STAT STARTED TIME COMMAND
func (s *unixStrategy) ParseProcessInfo(output string) (ProcessInfo, bool) {
	line := firstLine(output)
	if line == "" {
		return ProcessInfo{}, false
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ProcessInfo{}, false
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil || pid <= 0 {
		return ProcessInfo{}, false
	}

	return parseArgs(line, pid)
}

func (s *unixStrategy) PortListCommand(pid int) string {
	return fmt.Sprintf(
		"lsof -nP -a -iTCP -sTCP:LISTEN -p %[1]d 2>/dev/null || "+
			"ss -tlnp 2>/dev/null | grep 'pid=%[1]d,' || "+
			"netstat -tlnp 2>/dev/null | grep ' %[1]d/'",
		pid)
}

// ParseListeningPorts ignores pid: lsof -p, the ss pid= filter and the
// netstat " <pid>/" filter already match the owner exactly.
func (s *unixStrategy) ParseListeningPorts(output string, _ int) []int {
	ports := portSet{}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if m := lsofListenRegex.FindStringSubmatch(line); m != nil {
			ports.add(m[1])
			continue
		}

		if !strings.Contains(strings.ToUpper(line), "LISTEN") {
			continue
		}

		// ss: LISTEN 0 4096 127.0.0.1:42100 0.0.0.0:* users:(("language_server",pid=4412,fd=9))
		// netstat (Linux): tcp 0 0 127.0.0.1:42100 0.0.0.0:* LISTEN 4412/language_server
		// netstat (BSD): tcp4 0 0 127.0.0.1.42100 *.* LISTEN
		for _, field := range strings.Fields(line) {
			if m := colonLoopbackRegex.FindStringSubmatch(field); m != nil {
				ports.add(m[1])
				break
			}
			if m := dotLoopbackRegex.FindStringSubmatch(field); m != nil {
				ports.add(m[1])
				break
			}
		}
	}

	return ports.sorted()
}

func (s *unixStrategy) CandidateListCommand(prefix string) string {
	return fmt.Sprintf("ps -eo args= | grep -- %s | grep -v grep", shellQuote(prefix))
}

func (s *unixStrategy) Messages() Messages {
	p := s.printer
	return Messages{
		ProcessNotFound:     p.Sprintf("Language server process %s was not found on %s", s.processName, s.label),
		CommandNotAvailable: p.Sprintf("Could not run ps or lsof; make sure lsof (or ss/netstat) is installed and on PATH"),
		Requirements: []string{
			p.Sprintf("Make sure the IDE is running and you are signed in"),
			p.Sprintf("Make sure the %s process is running", s.processName),
			p.Sprintf("Make sure lsof is installed (ss or netstat are used as fallback)"),
			p.Sprintf("Make sure the language server listens on 127.0.0.1"),
		},
	}
}

func firstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
