package main

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/config"
)

func TestEditRiskKeepsBlankAndRejectsGarbage(t *testing.T) {
	cfg := config.Default()
	reader := bufio.NewReader(strings.NewReader("45\n\nabc\n"))
	var out bytes.Buffer
	editRisk(reader, &out, cfg)

	if cfg.Risk.CooldownMinutes != 45 {
		t.Fatalf("expected cooldown 45, got %d", cfg.Risk.CooldownMinutes)
	}
	if cfg.Risk.MaxSignalsPerDay != 5 {
		t.Fatalf("blank input should keep quota, got %d", cfg.Risk.MaxSignalsPerDay)
	}
	if cfg.Risk.MinRR != 1.2 || !strings.Contains(out.String(), "invalid number") {
		t.Fatalf("garbage should keep min RR, got %.2f", cfg.Risk.MinRR)
	}
}

func TestEditWebhookPassphrase(t *testing.T) {
	cfg := config.Default()
	cfg.Webhook.Passphrase = "old"
	editWebhook(bufio.NewReader(strings.NewReader("-\n60\n\n\n")), &bytes.Buffer{}, cfg)
	if cfg.Webhook.Passphrase != "" || cfg.Webhook.MaxSkewSecs != 60 {
		t.Fatalf("unexpected webhook settings %+v", cfg.Webhook)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SIGNALBOT_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Risk.MaxSignalsPerDay != 5 {
		t.Fatalf("expected defaults")
	}
}

func TestSummaryHidesSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Webhook.Secret = "super-secret"
	var out bytes.Buffer
	printSummary(&out, cfg)
	if strings.Contains(out.String(), "super-secret") || !strings.Contains(out.String(), "Secret configured: true") {
		t.Fatalf("unexpected summary:\n%s", out.String())
	}
}
