package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/config"
	"github.com/lalithlochan/beacon/internal/observ"
	"github.com/lalithlochan/beacon/internal/sqs"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	event, sqsCfg, err := parseFlags(args, cfg)
	if err != nil {
		return err
	}

	logger, err := observ.NewLogger("beacon-emit", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := sqs.NewClient(ctx, sqsCfg)
	if err != nil {
		return err
	}

	id, err := sqs.NewProducer(client, sqsCfg.QueueURL, logger).Publish(ctx, event)
	if err != nil {
		return err
	}

	logger.Info("event published",
		zap.String("message_id", id),
		zap.String("type", string(event.Type)),
		zap.Bool("broadcast", event.Broadcast()),
	)
	return nil
}

// parseFlags builds the event from the command line. Queue settings fall
// back to the gateway's SQS_* configuration.
func parseFlags(args []string, cfg *config.Config) (sqs.Event, sqs.Config, error) {
	fs := flag.NewFlagSet("emit", flag.ContinueOnError)

	eventType := fs.StringP("type", "t", string(sqs.EventSystemAlert), "status_update, announcement or system_alert")
	user := fs.StringP("user", "u", "", "recipient user id; omit on an announcement to broadcast")
	subject := fs.String("subject", "", "status_update subject, e.g. Application #1042")
	status := fs.String("status", "", "status_update new status")
	title := fs.String("title", "", "broadcast title")
	message := fs.StringP("message", "m", "", "message body")
	severity := fs.String("severity", "", "system_alert severity: info, success, warning or error")
	queueURL := fs.String("queue-url", cfg.SQSQueueURL, "SQS queue URL")
	region := fs.String("region", cfg.SQSRegion, "AWS region")
	endpoint := fs.String("endpoint", cfg.AWSEndpoint, "endpoint override, e.g. http://localhost:4566")

	if err := fs.Parse(args); err != nil {
		return sqs.Event{}, sqs.Config{}, err
	}

	if *queueURL == "" {
		return sqs.Event{}, sqs.Config{}, fmt.Errorf("--queue-url or SQS_QUEUE_URL is required")
	}

	event := sqs.Event{
		Type:     sqs.EventType(*eventType),
		UserID:   *user,
		Subject:  *subject,
		Status:   *status,
		Title:    *title,
		Message:  *message,
		Severity: *severity,
	}
	if err := event.Validate(); err != nil {
		return sqs.Event{}, sqs.Config{}, err
	}

	return event, sqs.Config{Region: *region, QueueURL: *queueURL, Endpoint: *endpoint}, nil
}
