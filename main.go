/*
File: main.go
Version: 1.1.0
Description: Entry point for the dnschat CLI. One-shot mode answers a single
             message; without -m it runs a REPL over stdin. SIGUSR1/SIGUSR2
             drive lifecycle suspend/resume, standing in for the host
             background/foreground transition.
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var (
	configFile = flag.String("config", "", "Path to configuration file (YAML)")
	zoneFlag   = flag.String("zone", "", "Chat service zone (overrides config)")
	message    = flag.String("m", "", "Send a single message and exit")
	debugFlag  = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Usage = func() {
		const usage = `Chat with an LLM over DNS TXT queries.

Usage: %s [-config config.yaml] [-zone ch.at] [-m "message"]

Without -m, reads messages line by line from stdin.
`
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	if *zoneFlag != "" {
		cfg.Server.Zone = *zoneFlag
		cfg.Server.parsedZone = NormalizeZone(*zoneFlag)
	}
	if *debugFlag {
		cfg.Logging.Level = "DEBUG"
	}

	if err := InitLogger(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer ShutdownLogger()

	resolver, err := NewResolver(cfg)
	if err != nil {
		LogFatal("Failed to build resolver: %v", err)
	}
	guard := NewLifecycleGuard(resolver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range sigChan {
			switch sig {
			case syscall.SIGUSR1:
				guard.Suspend()
			case syscall.SIGUSR2:
				guard.Resume()
			default:
				LogInfo("Received signal: %v - shutting down", sig)
				cancel()
				return
			}
		}
	}()

	LogInfo("dnschat ready (zone: %s, transports: %v)", cfg.Server.parsedZone, cfg.Server.parsedOrder)

	if *message != "" {
		if !send(ctx, guard, *message) {
			os.Exit(1)
		}
		return
	}

	repl(ctx, guard)
}

// send resolves one message and prints the answer or a rendered error.
func send(ctx context.Context, guard *LifecycleGuard, text string) bool {
	answer, err := guard.Resolve(ctx, text)
	if err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		return false
	}
	fmt.Println(answer)
	return true
}

func repl(ctx context.Context, guard *LifecycleGuard) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			send(ctx, guard, line)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		fmt.Print("> ")
	}
}

// renderError turns the structured taxonomy into an actionable message.
func renderError(err error) string {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return fmt.Sprintf("Cannot send: %s", validation.Reason)
	}
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return fmt.Sprintf("Slow down: try again in %v", limited.RetryAfter.Round(100*time.Millisecond))
	}
	var suspended *SuspendedError
	if errors.As(err, &suspended) {
		return "Session is suspended; resume and retry."
	}
	var exhausted *AllTransportsFailedError
	if errors.As(err, &exhausted) {
		var b strings.Builder
		b.WriteString("No transport could reach the service:\n")
		for _, a := range exhausted.Attempts {
			fmt.Fprintf(&b, "  %-7s %-12s %s\n", a.Method, a.ErrorKind, a.Detail)
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return fmt.Sprintf("Query failed: %v", err)
}
