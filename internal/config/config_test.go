package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "api" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "api")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.PlacesBaseURL != "https://places.googleapis.com/v1" {
		t.Errorf("PlacesBaseURL = %q", cfg.PlacesBaseURL)
	}
	if cfg.ProviderTimeout.Seconds() != 10 {
		t.Errorf("ProviderTimeout = %v, want 10s", cfg.ProviderTimeout)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 9000}
	if got := cfg.ListenAddr(); got != "127.0.0.1:9000" {
		t.Errorf("ListenAddr() = %q, want %q", got, "127.0.0.1:9000")
	}
}
