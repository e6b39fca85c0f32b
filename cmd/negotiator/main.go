package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "setup":
		return runSetupCmd(args[2:], stdout, stderr)
	case "propose":
		return runProposeCmd(args[2:], stdout, stderr)
	case "get":
		return runGetCmd(args[2:], stdout, stderr)
	case "list":
		return runListCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "\nnegotiator %s\n", version)
	_, _ = fmt.Fprintln(w, "Bilateral negotiation ledger.")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  negotiator <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "SERVER:")
	printCommand(w, "serve", "Run the negotiation server (default)")
	printCommand(w, "health", "Check server health (HTTP)")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "PARTY:")
	printCommand(w, "keygen", "Create a party key file (--out, --master, --label)")
	printCommand(w, "setup", "Open a negotiation (--counterparty)")
	printCommand(w, "propose", "Submit a proposal (--id, --events, values)")
	printCommand(w, "get", "Show a negotiation (--id, --transitions, --verify)")
	printCommand(w, "list", "List your negotiations")
	_, _ = fmt.Fprintln(w, "")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-12s %s\n", name, desc)
}
