package platform

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/message"
)

type windowsStrategy struct {
	processName string
	printer     *message.Printer
}

var (
	processIDRegex = regexp.MustCompile(`ProcessId=(\d+)`)
	// Get-NetTCPConnection table row: LocalAddress LocalPort RemoteAddress RemotePort State.
	// The cmdlet already filters by -OwningProcess, so rows carry no pid.
	psListenRegex = regexp.MustCompile(`^127\.0\.0\.1\s+(\d+)\s+\S+\s+\d+\s+Listen\b`)
)

func (s *windowsStrategy) Name() string { return "windows" }

func (s *windowsStrategy) ProcessListCommand(name string) string {
	return fmt.Sprintf(`wmic process where "name='%s'" get ProcessId,CommandLine /format:list`, wqlEscape(name))
}

// ParseProcessInfo reads `wmic ... /format:list` output. Each process is a
// block of Key=Value lines separated by blank lines; the first block carrying
// a ProcessId wins.
func (s *windowsStrategy) ParseProcessInfo(output string) (ProcessInfo, bool) {
	output = strings.ReplaceAll(output, "\r", "")
	if strings.TrimSpace(output) == "" {
		return ProcessInfo{}, false
	}

	for _, block := range strings.Split(output, "\n\n") {
		m := processIDRegex.FindStringSubmatch(block)
		if m == nil {
			continue
		}
		pid, err := strconv.Atoi(m[1])
		if err != nil || pid <= 0 {
			return ProcessInfo{}, false
		}
		return parseArgs(block, pid)
	}

	return ProcessInfo{}, false
}

// PortListCommand falls back to Get-NetTCPConnection when netstat yields
// nothing. findstr matches the pid as a substring; the parser checks the
// PID column exactly.
func (s *windowsStrategy) PortListCommand(pid int) string {
	return fmt.Sprintf(`netstat -ano | findstr "LISTENING" | findstr "%[1]d" || `+
		`powershell -NoProfile -Command "Get-NetTCPConnection -State Listen -OwningProcess %[1]d | `+
		`Format-Table -AutoSize LocalAddress,LocalPort,RemoteAddress,RemotePort,State"`, pid)
}

func (s *windowsStrategy) ParseListeningPorts(output string, pid int) []int {
	owner := strconv.Itoa(pid)
	ports := portSet{}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if m := psListenRegex.FindStringSubmatch(line); m != nil {
			ports.add(m[1])
			continue
		}

		if !strings.Contains(line, "LISTENING") {
			continue
		}

		// Proto Local Address Foreign Address State PID
		// TCP 127.0.0.1:42100 0.0.0.0:0 LISTENING 4412
		fields := strings.Fields(line)
		if len(fields) < 5 || !strings.EqualFold(fields[0], "TCP") || fields[4] != owner {
			continue
		}
		localAddr := fields[1]
		lastColon := strings.LastIndex(localAddr, ":")
		if lastColon == -1 || localAddr[:lastColon] != "127.0.0.1" {
			continue
		}
		ports.add(localAddr[lastColon+1:])
	}

	return ports.sorted()
}

func (s *windowsStrategy) CandidateListCommand(prefix string) string {
	return fmt.Sprintf(`wmic process where "name like '%s%%'" get Name /format:list`, wqlEscape(prefix))
}

func (s *windowsStrategy) Messages() Messages {
	p := s.printer
	return Messages{
		ProcessNotFound:     p.Sprintf("Language server process %s was not found on %s", s.processName, "Windows"),
		CommandNotAvailable: p.Sprintf("Could not run wmic or netstat; run from a standard Windows command prompt"),
		Requirements: []string{
			p.Sprintf("Make sure the IDE is running and you are signed in"),
			p.Sprintf("Make sure the %s process is running", s.processName),
			p.Sprintf("Make sure wmic and netstat are available (Windows Management Instrumentation enabled)"),
			p.Sprintf("Make sure the firewall allows connections to 127.0.0.1"),
		},
	}
}

// wqlEscape escapes a value for a single-quoted WQL string literal.
func wqlEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
