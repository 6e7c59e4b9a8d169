package cmd

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/byteagent/byte/internal/client"
	"github.com/byteagent/byte/internal/config"
	"github.com/byteagent/byte/internal/thread"
)

// runChat starts the interactive terminal client.
func runChat() error {
	chatFlags := flag.NewFlagSet("chat", flag.ContinueOnError)
	chatFlags.SetOutput(os.Stderr)
	serverURL := chatFlags.String("server", "ws://127.0.0.1:8000", "Server base URL")
	token := chatFlags.String("token", os.Getenv("BYTE_TOKEN"), "Bearer token")
	threadID := chatFlags.String("thread", "", "Resume an existing thread")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := chatFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing chat flags: %w", err)
	}
	if *token == "" {
		return errors.New("no token: pass --token or set BYTE_TOKEN (sign up via POST /api/auth/signup)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	endpoint := strings.TrimSuffix(*serverURL, "/") + "/ws/chat"

	supCfg := client.SupervisorConfig{
		Dialer: &client.WebSocketDialer{Endpoint: endpoint, Token: *token, Logger: logger},
		Logger: logger,
	}
	// Reconnect tuning comes from the server config file when one exists on
	// this machine; a client-only install falls back to supervisor defaults.
	if cfg, err := config.Load(); err == nil {
		supCfg.BackoffBase = cfg.BackoffBase()
		supCfg.BackoffCap = cfg.BackoffCap()
		supCfg.MaxAttempts = cfg.ReconnectAttempts
	}

	sup := client.NewSupervisor(supCfg)
	session := client.NewSession(client.SessionConfig{
		Supervisor: sup,
		Store:      thread.NewMemory(),
		ThreadID:   *threadID,
		Logger:     logger,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	fmt.Println("byte chat. Type a message, /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			cancel()
			return <-runErr
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			cancel()
			return <-runErr
		}

		if err := session.Send(line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if err := streamTurn(ctx, session, runErr); err != nil {
			return err
		}
	}
}

// streamTurn renders updates until the in-flight turn reaches a terminal
// state. Answer text prints incrementally as fragments arrive.
func streamTurn(ctx context.Context, session *client.Session, runErr <-chan error) error {
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return <-runErr

		case err := <-runErr:
			return err

		case u, ok := <-session.Updates():
			if !ok {
				return <-runErr
			}
			switch u.Kind {
			case client.UpdateSnapshot:
				answer := u.Snapshot.AnswerText
				if len(answer) > printed {
					fmt.Print(answer[printed:])
					printed = len(answer)
				}

			case client.UpdateTurn:
				fmt.Println()
				if u.Turn.Failed() {
					fmt.Fprintln(os.Stderr, "error:", u.Turn.Err)
				}
				for _, inv := range u.Turn.Invocations {
					fmt.Printf("[tool %s: %s]\n", inv.Name, inv.Status)
				}
				return nil

			case client.UpdateTurnAborted:
				fmt.Println()
				fmt.Fprintln(os.Stderr, "turn aborted:", u.Err)
				return nil

			case client.UpdateConnState:
				if u.Err != nil {
					fmt.Fprintln(os.Stderr, "connection lost for good:", u.Err)
				} else {
					fmt.Fprintf(os.Stderr, "[connection %s]\n", u.State)
				}
			}
		}
	}
}
