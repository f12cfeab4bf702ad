package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())

		cfg, err := Load("8081")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != "8081" {
			t.Errorf("expected port 8081, got %s", cfg.Port)
		}
		if cfg.Kafka.EventsTopic != "order.events" {
			t.Errorf("expected topic order.events, got %s", cfg.Kafka.EventsTopic)
		}
		if cfg.Dispatch.OfferTimeout != 2*time.Minute {
			t.Errorf("expected offer timeout 2m, got %s", cfg.Dispatch.OfferTimeout)
		}
	})

	t.Run("yaml file then env override", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		path := filepath.Join(dir, "config.yaml")
		data := []byte("port: \"9000\"\nstore:\n  driver: memory\ndispatch:\n  offer_timeout: 30s\nkafka:\n  brokers: [a:9092]\n")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		t.Setenv("CONFIG_FILE", path)
		t.Setenv("PORT", "9100")
		t.Setenv("KAFKA_BROKERS", "b:9092,c:9092")

		cfg, err := Load("8081")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != "9100" {
			t.Errorf("expected env port 9100, got %s", cfg.Port)
		}
		if cfg.Store.Driver != "memory" {
			t.Errorf("expected driver memory, got %s", cfg.Store.Driver)
		}
		if cfg.Dispatch.OfferTimeout != 30*time.Second {
			t.Errorf("expected offer timeout 30s, got %s", cfg.Dispatch.OfferTimeout)
		}
		if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"b:9092", "c:9092"}) {
			t.Errorf("expected env brokers, got %v", cfg.Kafka.Brokers)
		}
	})

	t.Run("dotenv file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LOCATION_STORE=redis\n"), 0o600); err != nil {
			t.Fatalf("failed to write .env: %v", err)
		}
		t.Setenv("LOCATION_STORE", "")
		_ = os.Unsetenv("LOCATION_STORE")

		cfg, err := Load("8082")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Location.Store != "redis" {
			t.Errorf("expected location store redis, got %s", cfg.Location.Store)
		}
	})

	t.Run("invalid duration", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("RECONCILE_INTERVAL", "soon")

		if _, err := Load("8081"); err == nil {
			t.Error("expected error for invalid duration")
		}
	})
}
