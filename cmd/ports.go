package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/productdevbook/lsprobe/internal/discovery"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the language server's loopback listening ports",
	Long:  `Find the language server process once and list the loopback TCP ports it is listening on, without probing them.`,
	RunE:  runPorts,
}

func runPorts(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	listing, err := a.detector.Scan()
	if err != nil {
		return fmt.Errorf("failed to scan ports: %w", err)
	}

	if jsonOutput {
		return printJSON(os.Stdout, listing)
	}
	return printListing(os.Stdout, listing)
}

func printListing(w io.Writer, listing discovery.Listing) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tEXTENSION PORT\tLISTENING PORTS")
	fmt.Fprintln(tw, "---\t--------------\t---------------")

	ext := "-"
	if listing.Process.HasDeclaredPort {
		ext = fmt.Sprint(listing.Process.DeclaredPort)
	}
	ports := make([]string, len(listing.Ports))
	for i, p := range listing.Ports {
		ports[i] = fmt.Sprint(p)
	}
	fmt.Fprintf(tw, "%d\t%s\t%s\n", listing.Process.PID, ext, strings.Join(ports, ", "))

	return tw.Flush()
}
