// Command monosync receives monobank webhooks and logs spending to a Google Sheet.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ArionMiles/monosync/pkg/logging"
)

const usage = `Usage: monosync [command] [flags]

Commands:
  serve   Run the webhook server (default)
  status  Check configuration, staging connectivity and the sink
  drain   Commit every staged record to the sink

All settings are read from environment variables. Run 'monosync status' to check them.
`

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	if err := run(cmd, args, logger); err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, logger *slog.Logger) error {
	switch cmd {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		addr := fs.String("addr", "", "listen address (overrides HTTP_ADDR)")
		_ = fs.Parse(args)
		return runServe(logger, *addr)
	case "status":
		return runStatus(os.Stdout)
	case "drain":
		fs := flag.NewFlagSet("drain", flag.ExitOnError)
		batch := fs.Int("batch", 10, "records appended per sink call")
		_ = fs.Parse(args)
		return runDrain(logger, *batch)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
