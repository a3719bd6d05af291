package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/productdevbook/lsprobe/internal/config"
	"github.com/productdevbook/lsprobe/internal/discovery"
	"github.com/productdevbook/lsprobe/internal/platform"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Show platform details and check each detection step",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return writeDoctor(os.Stdout, a.platform, a.detector, configPath())
}

func writeDoctor(out io.Writer, p *platform.Detector, det *discovery.Detector, cfgPath string) error {
	strategy := p.Strategy()
	msgs := strategy.Messages()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Platform\t%s (%s strategy)\n", p.Label(), strategy.Name())
	fmt.Fprintf(w, "Process name\t%s\n", p.ProcessName())
	fmt.Fprintf(w, "Config file\t%s\n", cfgPath)
	fmt.Fprintf(w, "Process command\t%s\n", strategy.ProcessListCommand(p.ProcessName()))

	listing, err := det.Scan()
	switch {
	case err == nil:
		fmt.Fprintf(w, "Process\t✓ pid %d\n", listing.Process.PID)
		fmt.Fprintf(w, "Port command\t%s\n", strategy.PortListCommand(listing.Process.PID))
		fmt.Fprintf(w, "Listening ports\t✓ %v\n", listing.Ports)
	case errors.Is(err, discovery.ErrCommandFailed):
		fmt.Fprintf(w, "Process\t✗ %s\n", msgs.CommandNotAvailable)
	case errors.Is(err, discovery.ErrNoListeningPorts):
		fmt.Fprintf(w, "Process\t✓ pid %d\n", listing.Process.PID)
		fmt.Fprintf(w, "Port command\t%s\n", strategy.PortListCommand(listing.Process.PID))
		fmt.Fprintf(w, "Listening ports\t✗ %v\n", err)
	default:
		fmt.Fprintf(w, "Process\t✗ %s\n", msgs.ProcessNotFound)
		// a build for another architecture is the usual cause
		if names, suggestErr := det.Suggest(); suggestErr == nil && len(names) > 0 {
			fmt.Fprintf(w, "Did you mean\t%s (set process_name)\n", strings.Join(names, ", "))
		}
	}
	if flushErr := w.Flush(); flushErr != nil {
		return flushErr
	}

	if err != nil {
		fmt.Fprintln(out)
		for i, req := range msgs.Requirements {
			fmt.Fprintf(out, "%d. %s\n", i+1, req)
		}
	}
	return nil
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.Path()
}
