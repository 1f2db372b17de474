package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.ChannelAdapters != AdaptersLog {
		t.Errorf("expected log adapters by default, got %s", cfg.ChannelAdapters)
	}
	if cfg.SNSRegion != cfg.AWSRegion {
		t.Errorf("expected SNS region to fall back to AWS region, got %s", cfg.SNSRegion)
	}
	if cfg.AdapterTimeout != 10*time.Second {
		t.Errorf("expected 10s adapter timeout, got %s", cfg.AdapterTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CLIENT_ORIGIN", "https://app.example.com")
	t.Setenv("CHANNEL_ADAPTERS", "aws")
	t.Setenv("ADAPTER_TIMEOUT", "3")
	t.Setenv("WS_SEND_BUFFER", "8")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ENDPOINT_URL", "http://localhost:4566")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.ClientOrigin != "https://app.example.com" {
		t.Errorf("unexpected origin %q", cfg.ClientOrigin)
	}
	if cfg.ChannelAdapters != AdaptersAWS {
		t.Errorf("expected aws adapters, got %s", cfg.ChannelAdapters)
	}
	if cfg.AdapterTimeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %s", cfg.AdapterTimeout)
	}
	if cfg.WSSendBuffer != 8 {
		t.Errorf("expected send buffer 8, got %d", cfg.WSSendBuffer)
	}
	if cfg.AWSEndpoint != "http://localhost:4566" {
		t.Errorf("unexpected endpoint %q", cfg.AWSEndpoint)
	}
	// SNS and SQS follow AWS_REGION unless set explicitly.
	if cfg.SNSRegion != "eu-west-1" || cfg.SQSRegion != "eu-west-1" {
		t.Errorf("expected regions to follow AWS_REGION, got sns=%s sqs=%s", cfg.SNSRegion, cfg.SQSRegion)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"invalid port", "PORT", "abc"},
		{"invalid db port", "DB_PORT", "x"},
		{"invalid adapters", "CHANNEL_ADAPTERS", "carrier-pigeon"},
		{"invalid send buffer", "WS_SEND_BUFFER", "0"},
		{"invalid rate limit", "RATE_LIMIT_PER_MINUTE", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWT_SECRET is missing in production")
	}
}
