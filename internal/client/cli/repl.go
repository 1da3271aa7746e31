package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isPaired() bool
	Pair(ctx context.Context) error
	Sell(ctx context.Context) error
	Stats(ctx context.Context) error
	SyncNow(ctx context.Context) error
	Retry(ctx context.Context) error
	Purge(ctx context.Context) error
	Export(ctx context.Context) error
	Rotate(ctx context.Context) error
}

// runREPL starts a simple read-eval-print loop for the POS terminal.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Not paired:
//	  - help           — show available commands
//	  - pair           — pair this terminal with the server
//	  - exit | quit    — leave the program
//
//	Paired:
//	  - help           — show available commands
//	  - sell           — record a sale into the offline queue
//	  - stats          — show queue depth per status
//	  - sync           — run a sync attempt now
//	  - retry          — requeue failed entries
//	  - purge          — delete old synced entries
//	  - export         — produce an encrypted queue snapshot for support
//	  - rotate         — request a fresh encryption key from the server
//	  - exit | quit    — leave the program
//
// Any errors returned by command handlers are ignored here; handlers should
// log their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("pos %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isPaired() {
				printlnFn("Available commands: sell, stats, sync, retry, purge, export, rotate, exit")
			} else {
				printlnFn("Available commands: pair, exit")
			}

		case "pair":
			_ = a.Pair(ctx)

		case "sell":
			_ = a.Sell(ctx)

		case "stats":
			_ = a.Stats(ctx)

		case "sync":
			_ = a.SyncNow(ctx)

		case "retry":
			_ = a.Retry(ctx)

		case "purge":
			_ = a.Purge(ctx)

		case "export":
			_ = a.Export(ctx)

		case "rotate":
			_ = a.Rotate(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
