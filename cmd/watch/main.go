package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/auth"
	"github.com/lalithlochan/beacon/internal/client"
	"github.com/lalithlochan/beacon/internal/observ"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	apiURL := flag.String("api", "http://localhost:8080", "gateway base URL")
	wsURL := flag.String("ws", "", "websocket URL (derived from --api when empty)")
	token := flag.String("token", os.Getenv("BEACON_TOKEN"), "bearer token")
	secret := flag.String("secret", "", "JWT secret used to mint a token when --token is empty")
	user := flag.String("user", "", "user id to watch")
	history := flag.Int("history", 10, "number of history entries to print on start")
	markAll := flag.Bool("mark-all-read", false, "mark everything read after loading history")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := observ.NewLogger("beacon-watch", "development", *logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	userID, err := uuid.Parse(*user)
	if err != nil {
		return fmt.Errorf("--user must be a uuid: %w", err)
	}

	if *token == "" {
		if *secret == "" {
			return errors.New("either --token or --secret is required")
		}
		*token, err = auth.NewVerifier(*secret).Generate(userID, 12*time.Hour)
		if err != nil {
			return fmt.Errorf("failed to mint token: %w", err)
		}
	}

	if *wsURL == "" {
		*wsURL, err = websocketURL(*apiURL)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(*apiURL, *token)
	tracker := client.NewTracker(api, client.TrackerConfig{
		OnNotify: func(n client.Notification) {
			fmt.Println(renderToast(n))
		},
	}, logger)

	if err := tracker.Load(ctx); err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	printHistory(tracker, *history)

	if *markAll {
		if err := tracker.MarkAllAsRead(ctx); err != nil {
			return fmt.Errorf("failed to mark all read: %w", err)
		}
	}

	conn := client.NewConn(client.ConnConfig{
		URL:    *wsURL,
		Token:  *token,
		UserID: userID.String(),
	}, logger)

	// Pushes sent before a join (including the first one) only reach us
	// through history, so reload after every connect.
	conn.OnConnect(func() {
		if err := tracker.Load(ctx); err != nil {
			logger.Warn("history reload failed", zap.Error(err))
		}
	})

	sub := client.NewSubscriber(conn, tracker, logger)
	sub.Start(client.Identity{UserID: userID.String(), Token: *token})
	defer sub.Stop()

	go reportUnread(ctx, tracker)

	return conn.Run(ctx)
}

func printHistory(tracker *client.Tracker, n int) {
	items, unread := tracker.Snapshot()
	if n > len(items) {
		n = len(items)
	}
	for _, item := range items[:n] {
		fmt.Println(renderItem(item))
	}
	fmt.Println(renderStatus(unread, len(items)))
}

// reportUnread prints the unread count whenever it changes.
func reportUnread(ctx context.Context, tracker *client.Tracker) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := tracker.Unread()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items, unread := tracker.Snapshot()
			if unread != last {
				fmt.Println(renderStatus(unread, len(items)))
				last = unread
			}
		}
	}
}

// websocketURL maps http(s)://host to ws(s)://host/v1/ws.
func websocketURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid --api: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid --api scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	return u.String(), nil
}
