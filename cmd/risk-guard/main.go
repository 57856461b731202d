package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/crypto-risk-guard/internal/config"
	"github.com/ducminhle1904/crypto-risk-guard/internal/service"
)

// Build metadata, overridden at release time via -ldflags -X.
var (
	buildVersion = "1.0.0"
	buildCommit  = "dev"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., risk_guard.json); built-in defaults apply when omitted")
		envFile    = flag.String("env", ".env", "Environment file path (default: .env)")
		demo       = flag.Bool("demo", true, "Use demo trading environment - paper trading (default: true)")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("risk-guard v%s\n", buildVersion)
		fmt.Printf("Build: %s\n", buildCommit)
		fmt.Printf("Go: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return
	}

	// Load environment variables from .env file
	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load .env file (%v), checking environment variables...", err)
	}

	fmt.Println("🛡️ Risk Guard Starting...")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Apply demo mode override
	if *demo {
		cfg.Exchange.Bybit.Demo = true
		cfg.Exchange.Bybit.Testnet = false
	}

	guard, err := service.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create risk guard: %v", err)
	}

	if err := guard.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start risk guard: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	fmt.Println("\n🛑 Shutdown signal received...")

	guard.Stop()
	fmt.Println("✅ Risk guard stopped")
}

// loadEnvFile loads environment variables from a file
func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}
