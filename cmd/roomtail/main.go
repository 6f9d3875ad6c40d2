// roomtail joins a codelab room over WebSocket and prints every frame it receives.
// Usage: go run ./cmd/roomtail --url ws://localhost:8080 --room lab-1 --token $TOKEN
//
// Without --token, a session is minted from the signing key named in --config
// using --role and --subject.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/codelab-live/internal/api"
	"github.com/rickgao/codelab-live/internal/auth"
	"github.com/rickgao/codelab-live/internal/config"
	"github.com/rickgao/codelab-live/internal/connection"
	"github.com/rickgao/codelab-live/internal/model"
)

func main() {
	baseURL := flag.String("url", "ws://localhost:8080", "hub base URL (ws:// or wss://)")
	room := flag.String("room", "", "codelab id to join")
	token := flag.String("token", "", "session token; minted from --config when empty")
	configPath := flag.String("config", "configs/livehub.local.yaml", "config used to mint a token")
	role := flag.String("role", string(model.RoleAttendee), "role for a minted token (admin or attendee)")
	subject := flag.String("subject", "", "attendee id for a minted token")
	say := flag.String("say", "", "send one chat message after joining")
	history := flag.Int("history", 0, "print the last N visible messages before streaming")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *room == "" {
		logger.Error("--room is required")
		os.Exit(2)
	}

	if *token == "" {
		minted, err := mintToken(*configPath, model.Role(*role), *subject, *room)
		if err != nil {
			logger.Error("failed to mint token", "error", err)
			os.Exit(1)
		}
		*token = minted
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if *history > 0 {
		if err := printHistory(ctx, *baseURL, *token, *room, *history, logger); err != nil {
			logger.Error("failed to fetch history", "error", err)
			os.Exit(1)
		}
	}

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = strings.TrimSuffix(*baseURL, "/") + "/ws/" + url.PathEscape(*room)
	clientCfg.Token = *token

	client := connection.NewClient(clientCfg, logger)
	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to join room", "room", *room, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	logger.Info("joined room - press Ctrl+C to stop", "room", *room)

	if *say != "" {
		if err := client.SendJSON(map[string]string{"type": "chat", "message": *say}); err != nil {
			logger.Error("failed to send chat", "error", err)
		}
	}

	var received int64
	stats := time.NewTicker(30 * time.Second)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete", "frames", received)
			return

		case <-stats.C:
			logger.Info("stats", "frames", received, "connected", client.IsConnected())

		case err := <-client.Errors():
			if errors.Is(err, connection.ErrPeerClosed) {
				logger.Info("room closed the connection", "frames", received)
			} else {
				logger.Error("connection lost", "error", err, "frames", received)
			}
			return

		case msg := <-client.Messages():
			received++
			printFrame(msg, *verbose)
		}
	}
}

// mintToken signs a session with the configured key.
func mintToken(configPath string, role model.Role, subject, room string) (string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return "", err
	}
	cfg, err := config.LoadWithDefaults(configPath)
	if err != nil {
		return "", err
	}

	creds, err := auth.LoadCredentials(cfg.Auth.PrivateKeyPath, cfg.Auth.Issuer, cfg.Auth.SessionTTL)
	if err != nil {
		return "", err
	}

	session := model.Session{Role: role, CodelabID: room}
	if role == model.RoleAttendee {
		session.SubjectID = subject
	}
	return creds.Issue(session)
}

// printHistory fetches recent history over the REST API.
func printHistory(ctx context.Context, baseURL, token, room string, limit int, logger *slog.Logger) error {
	restURL := strings.Replace(strings.TrimSuffix(baseURL, "/"), "ws", "http", 1)
	client := api.NewClient(restURL, token,
		api.WithLogger(logger),
		api.WithTimeout(10*time.Second),
		api.WithRetries(2, 500*time.Millisecond),
	)

	messages, err := client.Messages(ctx, room, limit)
	if err != nil {
		return err
	}

	for _, m := range messages {
		if m.Kind == string(model.KindDM) {
			fmt.Printf("[HISTORY %s] %s -> %s: %s\n", m.CreatedAt.Format(time.TimeOnly), m.SenderName, m.TargetID, m.Body)
		} else {
			fmt.Printf("[HISTORY %s] %s: %s\n", m.CreatedAt.Format(time.TimeOnly), m.SenderName, m.Body)
		}
	}
	return nil
}

func printFrame(msg connection.TimestampedMessage, verbose bool) {
	if verbose {
		var pretty json.RawMessage = msg.Data
		data, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			data = msg.Data
		}
		fmt.Printf("[%s] %s\n", msg.ReceivedAt.Format(time.TimeOnly), data)
		return
	}

	var frame map[string]any
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		fmt.Printf("[RAW] %s\n", msg.Data)
		return
	}

	switch frame["type"] {
	case model.FrameChat:
		fmt.Printf("[CHAT] %v: %v\n", frame["sender"], frame["message"])
	case model.FrameDM:
		fmt.Printf("[DM] %v -> %v: %v\n", frame["sender"], frame["target_id"], frame["message"])
	case model.FrameStepProgress:
		fmt.Printf("[STEP] attendee=%v step=%v\n", frame["attendee_id"], frame["step_number"])
	case model.FrameHelpRequest:
		fmt.Printf("[HELP] %v on step %v (id=%v)\n", frame["attendee_name"], frame["step_number"], frame["id"])
	case model.FrameHelpResolved:
		fmt.Printf("[HELP RESOLVED] id=%v\n", frame["id"])
	case model.FrameCommentThreadChanged:
		fmt.Printf("[COMMENTS] thread=%v\n", frame["thread_id"])
	default:
		fmt.Printf("[%v] %s\n", frame["type"], msg.Data)
	}
}
