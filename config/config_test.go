package config

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		conn     string
		addr     string
		password string
		tls      bool
	}{
		{name: "url", conn: "redis://:pw@localhost:6380/0", addr: "localhost:6380", password: "pw"},
		{name: "azure", conn: "cache.example.net:6380,password=secret,ssl=True,abortConnect=False", addr: "cache.example.net:6380", password: "secret", tls: true},
		{name: "plain", conn: "localhost:6379", addr: "localhost:6379"},
		{name: "equalsInPassword", conn: "h:1,password=a=b", addr: "h:1", password: "a=b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := RedisOptions(tt.conn)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if opts.Addr != tt.addr || opts.Password != tt.password {
				t.Fatalf("unexpected options addr=%s password=%s", opts.Addr, opts.Password)
			}
			if (opts.TLSConfig != nil) != tt.tls {
				t.Fatalf("unexpected tls config %v", opts.TLSConfig)
			}
		})
	}
	if _, err := RedisOptions(""); err == nil {
		t.Fatalf("expected error for empty connection string")
	}
}

func TestRequireListsMissingKeys(t *testing.T) {
	t.Setenv("TODO_PRESENT", "x")
	t.Setenv("TODO_MISSING_A", "")
	if _, err := Require("TODO_PRESENT", "TODO_MISSING_A", "TODO_MISSING_B"); err == nil ||
		!strings.Contains(err.Error(), "TODO_MISSING_A, TODO_MISSING_B") {
		t.Fatalf("unexpected error %v", err)
	}
	vals, err := Require("TODO_PRESENT")
	if err != nil || vals["TODO_PRESENT"] != "x" {
		t.Fatalf("unexpected values %v %v", vals, err)
	}
}

func TestDurationAndInt(t *testing.T) {
	t.Setenv("TODO_TTL", "")
	if d, err := Duration("TODO_TTL", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("expected default, got %v %v", d, err)
	}
	t.Setenv("TODO_TTL", "90s")
	if d, err := Duration("TODO_TTL", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("unexpected duration %v %v", d, err)
	}
	t.Setenv("TODO_TTL", "-1s")
	if _, err := Duration("TODO_TTL", time.Minute); err == nil {
		t.Fatalf("expected error for negative duration")
	}

	t.Setenv("TODO_N", "abc")
	if _, err := Int("TODO_N", 3); err == nil {
		t.Fatalf("expected error for non-numeric value")
	}
	t.Setenv("TODO_N", "12")
	if n, err := Int("TODO_N", 3); err != nil || n != 12 {
		t.Fatalf("unexpected int %d %v", n, err)
	}
}

func TestSetupLogging(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("LOG_FORMAT", "JSON")
	logger := log.New()
	SetupLogging(logger)
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level")
	}
	if _, ok := logger.Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("expected json formatter")
	}
}
