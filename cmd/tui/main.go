package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BANCRIPFUTBOT/bancripfutbot/internal/config"
)

const defaultConfigPath = "config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Signal Bot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit risk filters")
		fmt.Println("3) Edit webhook authentication")
		fmt.Println("4) Save config")
		fmt.Println("5) Launch signal bot")
		fmt.Println("6) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(os.Stdout, cfg)
		case "2":
			editRisk(reader, os.Stdout, cfg)
		case "3":
			editWebhook(reader, os.Stdout, cfg)
		case "4":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "5":
			launchBot(reader)
		case "6":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "\n--- Configuration Summary ---")
	fmt.Fprintf(w, "Listen: %s | metrics: %s | log: %s\n", cfg.App.Addr, cfg.App.MetricsAddr, cfg.App.LogLevel)
	fmt.Fprintf(w, "Secret configured: %t | passphrase: %t\n", cfg.Webhook.Secret != "", cfg.Webhook.Passphrase != "")
	fmt.Fprintf(w, "Max clock skew: %ds | nonce TTL: %ds | nonce capacity: %d\n",
		cfg.Webhook.MaxSkewSecs, cfg.Webhook.NonceTTLSecs, cfg.Webhook.NonceCapacity)
	fmt.Fprintf(w, "Cooldown: %d min | max signals/day: %d | min RR: %.2f\n",
		cfg.Risk.CooldownMinutes, cfg.Risk.MaxSignalsPerDay, cfg.Risk.MinRR)
	fmt.Fprintf(w, "Telegram: %t\n", cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "")
	fmt.Fprintf(w, "Storage: %s\n", cfg.Storage.Driver)
}

func editRisk(reader *bufio.Reader, w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "\n--- Edit Risk Filters ---")
	cfg.Risk.CooldownMinutes = promptInt(reader, w, "Cooldown minutes", cfg.Risk.CooldownMinutes)
	cfg.Risk.MaxSignalsPerDay = promptInt(reader, w, "Max signals per day", cfg.Risk.MaxSignalsPerDay)
	cfg.Risk.MinRR = promptFloat(reader, w, "Minimum reward/risk", cfg.Risk.MinRR)
}

func editWebhook(reader *bufio.Reader, w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "\n--- Edit Webhook Authentication ---")
	fmt.Fprint(w, "Passphrase (blank to keep, - to clear): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		if v := strings.TrimSpace(line); v == "-" {
			cfg.Webhook.Passphrase = ""
		} else {
			cfg.Webhook.Passphrase = v
		}
	}
	cfg.Webhook.MaxSkewSecs = promptInt(reader, w, "Max clock skew (s)", cfg.Webhook.MaxSkewSecs)
	cfg.Webhook.NonceTTLSecs = promptInt(reader, w, "Nonce TTL (s)", cfg.Webhook.NonceTTLSecs)
	cfg.Webhook.NonceCapacity = promptInt(reader, w, "Nonce capacity", cfg.Webhook.NonceCapacity)
}

func launchBot(reader *bufio.Reader) {
	fmt.Println("Launching signal bot (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/signalbot", "-config", locateConfig())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the bot and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, w io.Writer, label string, current float64) float64 {
	fmt.Fprintf(w, "%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil || val < 0 {
		fmt.Fprintf(w, "invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptInt(reader *bufio.Reader, w io.Writer, label string, current int) int {
	fmt.Fprintf(w, "%s [%d]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.Atoi(line)
	if err != nil || val < 0 {
		fmt.Fprintf(w, "invalid number, keeping %d\n", current)
		return current
	}
	return val
}

// loadConfig reads the file without env overrides. A missing file starts from defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(locateConfig())
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func saveConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if p := os.Getenv("SIGNALBOT_CONFIG"); p != "" {
		return p
	}
	return filepath.Clean(defaultConfigPath)
}
