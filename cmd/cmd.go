// Package cmd provides the CLI commands for byte.
//
// Commands:
//   - serve: HTTP API server with the WebSocket chat endpoint
//   - chat: interactive terminal client against a running server
//
// Signal handling and graceful shutdown are implemented for all commands via
// context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/byteagent/byte/internal/log"
)

// Execute is the main entry point for the byte CLI.
func Execute() error {
	logger := log.New(log.Config{
		Level: log.ParseLevel(logLevelFromEnv()),
		JSON:  os.Getenv("LOG_JSON") != "",
	})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "chat":
		return runChat()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func logLevelFromEnv() string {
	if os.Getenv("DEBUG") != "" {
		return "debug"
	}
	return "info"
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("byte - streaming chat server and client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  byte serve [addr]   Start the HTTP API server (default: :8000)")
	fmt.Println("  byte chat           Start an interactive chat client")
	fmt.Println("  byte --version      Show version information")
	fmt.Println("  byte --help         Show this help")
	fmt.Println()
	fmt.Println("Chat flags:")
	fmt.Println("  --server URL        Server base URL (default: ws://127.0.0.1:8000)")
	fmt.Println("  --token TOKEN       Bearer token (or BYTE_TOKEN env var)")
	fmt.Println("  --thread ID         Resume an existing thread")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  BYTE_AUTH_SECRET    Required for serve: token signing secret")
	fmt.Println("  DATABASE_URL        Optional: overrides postgres_* settings")
	fmt.Println("  DEBUG               Optional: enable debug logging")
}
