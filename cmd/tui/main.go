package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"spreadbot-go/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== SpreadBot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit strategy thresholds")
		fmt.Println("3) Edit sizing and risk limits")
		fmt.Println("4) Save config")
		fmt.Println("5) Launch spread bot")
		fmt.Println("6) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editStrategy(reader, cfg)
		case "3":
			editRisk(reader, cfg)
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

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Provider: %s (testnet=%v)\n", cfg.Exchange.Provider, cfg.Exchange.Testnet)
	fmt.Println("Instruments:", strings.Join(cfg.Strategy.Instruments, ", "))
	fmt.Printf("Capital per trade: $%.2f at %dx leverage\n", cfg.Strategy.CapitalPerTrade, cfg.Strategy.Leverage)
	fmt.Printf("Lookback: %d samples | entry z: %.2f | exit z: %.2f\n", cfg.Strategy.LookbackWindow, cfg.Strategy.ZEntry, cfg.Strategy.ZExit)
	fmt.Printf("Transaction cost rate: %.4f%%\n", cfg.Strategy.TransactionCostRate*100)
	fmt.Printf("Poll interval: %s | min trade interval: %s\n", cfg.Strategy.PollInterval(), cfg.Strategy.MinTradeInterval())
	fmt.Printf("Short spread allowed: %v\n", cfg.Strategy.AllowShortSpread)
	fmt.Printf("Per-trade notional cap: $%.2f | stop loss: $%.2f\n", cfg.Risk.MaxNotionalPerTrade, cfg.Risk.StopLossThreshold)
	fmt.Printf("Order retries: %d | liquidation attempts: %d\n", cfg.Execution.MaxRetries, cfg.Execution.LiquidationAttempts)
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategy ---")
	fmt.Printf("Current instruments: %s\n", strings.Join(cfg.Strategy.Instruments, ", "))
	fmt.Print("Enter instruments comma-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Strategy.Instruments = nil
		for _, p := range strings.Split(strings.TrimSpace(line), ",") {
			if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
				cfg.Strategy.Instruments = append(cfg.Strategy.Instruments, trimmed)
			}
		}
	}
	cfg.Strategy.LookbackWindow = int(promptFloat(reader, "Lookback window (samples)", float64(cfg.Strategy.LookbackWindow)))
	cfg.Strategy.ZEntry = promptFloat(reader, "Entry z-score", cfg.Strategy.ZEntry)
	cfg.Strategy.ZExit = promptFloat(reader, "Exit z-score", cfg.Strategy.ZExit)
	cfg.Strategy.TransactionCostRate = promptPercent(reader, "Transaction cost rate (%)", cfg.Strategy.TransactionCostRate)
	cfg.Strategy.PollIntervalMs = int(promptFloat(reader, "Poll interval (ms)", float64(cfg.Strategy.PollIntervalMs)))
	cfg.Strategy.MinTradeIntervalMs = int(promptFloat(reader, "Min trade interval (ms)", float64(cfg.Strategy.MinTradeIntervalMs)))
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Sizing / Risk ---")
	cfg.Strategy.CapitalPerTrade = promptFloat(reader, "Capital per trade (USD)", cfg.Strategy.CapitalPerTrade)
	cfg.Strategy.Leverage = int(promptFloat(reader, "Leverage", float64(cfg.Strategy.Leverage)))
	cfg.Risk.MaxNotionalPerTrade = promptFloat(reader, "Max notional per trade (USD, 0 = none)", cfg.Risk.MaxNotionalPerTrade)
	cfg.Risk.StopLossThreshold = promptFloat(reader, "Stop loss (USD, 0 = none)", cfg.Risk.StopLossThreshold)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
}

func launchBot(reader *bufio.Reader) {
	fmt.Println("Launching spread bot (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/spreadbot")
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

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if filepath.IsAbs(defaultConfigPath) {
		return defaultConfigPath
	}
	return filepath.Clean(defaultConfigPath)
}
