// studio-voice is a terminal client for the gateway's live voice endpoint:
// it streams microphone audio up and plays the model's speech back through
// the default output device.
//
// Press Enter to start or stop a conversation, q to quit.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/atelierhq/studio/pkg/voice"
)

func main() {
	_ = godotenv.Load()

	gateway := flag.String("gateway", envOr("STUDIO_GATEWAY_URL", "http://localhost:8080"),
		"gateway base URL")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*gateway, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(gateway string, logger *slog.Logger) error {
	liveURL, err := voice.LiveURL(gateway)
	if err != nil {
		return fmt.Errorf("gateway url: %w", err)
	}

	mic, err := newMicCapture()
	if err != nil {
		return err
	}
	defer mic.Shutdown()

	openOutput, err := newOutput(voice.OutputFormat())
	if err != nil {
		return err
	}

	ctrl := voice.NewController(voice.ControllerConfig{
		Capture:    mic,
		OpenOutput: openOutput,
		Dial: func(cb voice.Callbacks) (voice.Channel, error) {
			return voice.Dial(liveURL, cb, voice.DialOptions{Logger: logger}), nil
		},
		Logger:         logger,
		OnTurnComplete: func() { fmt.Println("  [turn complete]") },
		OnInterrupted:  func() { fmt.Println("  [interrupted]") },
		OnError:        func(err error) { fmt.Println("  [session error]", err) },
	})
	defer ctrl.Stop()

	fmt.Println("studio-voice connected to", gateway)
	fmt.Println("Enter: start/stop conversation, q: quit")

	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			return stdin.Err()
		}
		switch strings.TrimSpace(stdin.Text()) {
		case "q", "quit", "exit":
			return nil
		case "":
			if ctrl.State() == voice.StateIdle {
				if err := ctrl.Start(context.Background()); err != nil {
					fmt.Println("  [start failed]", err)
					continue
				}
				fmt.Println("  [listening]")
			} else {
				ctrl.Stop()
				fmt.Println("  [stopped]")
			}
		default:
			fmt.Println("  Enter toggles the conversation, q quits")
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
