package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/productdevbook/lsprobe/internal/discovery"
	"github.com/productdevbook/lsprobe/internal/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version    = "0.1.0"
	jsonOutput bool
	plain      bool
	cfgFile    string
	v          = viper.New()
)

var errNotFound = errors.New("language server API not found")

var rootCmd = &cobra.Command{
	Use:   "lsprobe",
	Short: "Find the local language server's API port and CSRF token",
	Long: `lsprobe locates the IDE's background language server, reads the CSRF token
from its command line and probes its loopback ports until one answers the API.`,
	SilenceUsage: true,
	RunE:         runDetect,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.BoolVar(&plain, "plain", false, "Disable the interactive view")
	flags.StringVar(&cfgFile, "config", "", "Config file (default is the platform config dir)")
	flags.Int("retries", 3, "Maximum detection attempts")
	flags.Duration("retry-delay", discovery.DefaultRetryDelay, "Delay between attempts")
	flags.String("process-name", "", "Override the language server binary name")
	flags.String("lang", "", "Diagnostics language (en, zh)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Also write logs to this file (rotated)")

	for key, flag := range map[string]string{
		"max_retries":  "retries",
		"retry_delay":  "retry-delay",
		"process_name": "process-name",
		"language":     "lang",
		"log.level":    "log-level",
		"log.file":     "log-file",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.Version = version
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect the language server API (default command)",
	RunE:  runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	interactive := !jsonOutput && !plain && isTerminal(os.Stdout)

	var console io.Writer = os.Stderr
	if interactive {
		console = nil
	}
	a, err := newApp(console)
	if err != nil {
		return err
	}
	defer a.Close()

	if interactive {
		title := fmt.Sprintf("Detecting %s on %s", a.platform.ProcessName(), a.platform.Label())
		_, ok, err := ui.Run(a.detector, a.logger, title, os.Stdout)
		if err != nil {
			return err
		}
		if !ok {
			return errNotFound
		}
		return nil
	}

	creds, ok := a.detector.Detect()
	if !ok {
		if jsonOutput {
			fmt.Println("null")
		}
		return errNotFound
	}

	if jsonOutput {
		return printJSON(os.Stdout, creds)
	}
	return printTable(os.Stdout, creds)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printTable(w io.Writer, creds discovery.Credentials) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECT PORT\tEXTENSION PORT\tCSRF TOKEN")
	fmt.Fprintln(tw, "------------\t--------------\t----------")

	ext := "-"
	if creds.ExtensionPort != 0 {
		ext = fmt.Sprint(creds.ExtensionPort)
	}
	fmt.Fprintf(tw, "%d\t%s\t%s\n", creds.ConnectPort, ext, creds.CSRFToken)

	return tw.Flush()
}
