// studio-chat is a terminal client for the gateway's streaming chat endpoint.
// Replies render incrementally as NDJSON chunks arrive, and the transcript
// persists between runs so the conversation picks up where it left off.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/atelierhq/studio/pkg/chat"
)

func main() {
	_ = godotenv.Load()

	gateway := flag.String("gateway", envOr("STUDIO_GATEWAY_URL", "http://localhost:8080"),
		"gateway base URL")
	transcriptPath := flag.String("transcript", defaultTranscriptPath(),
		"transcript file path")
	search := flag.Bool("search", false, "ground answers with web search")
	thinking := flag.Bool("thinking", false, "enable model thinking")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if err := run(*gateway, *transcriptPath, chat.Options{UseSearch: *search, UseThinking: *thinking}, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(gateway, transcriptPath string, opts chat.Options, logger *slog.Logger) error {
	client := chat.NewClient(gateway, chat.WithLogger(logger))
	store := chat.NewTranscriptStore(transcriptPath)
	history := store.Load()

	for _, m := range history {
		printTurn(os.Stdout, m)
	}
	fmt.Println("(/reset clears the conversation, /quit exits)")

	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !stdin.Scan() {
			fmt.Println()
			return stdin.Err()
		}
		text := strings.TrimSpace(stdin.Text())
		switch text {
		case "":
			continue
		case "/quit", "/q", "/exit":
			return nil
		case "/reset":
			if err := store.Reset(); err != nil {
				fmt.Fprintln(os.Stderr, "reset failed:", err)
				continue
			}
			history = store.Load()
			for _, m := range history {
				printTurn(os.Stdout, m)
			}
			continue
		}

		history = exchange(client, history, text, opts, os.Stdout, logger)
		if err := store.Save(history); err != nil {
			logger.Warn("saving transcript", "err", err)
		}
	}
}

// exchange runs one turn: stream the reply, then append both the user turn
// and the model turn to the history. A failure before any text arrived
// substitutes the canned fallback as the model turn, so the transcript always
// gains a reply; a partial reply stands as-is.
func exchange(client *chat.Client, history []chat.Message, text string, opts chat.Options, out io.Writer, logger *slog.Logger) []chat.Message {
	fmt.Fprint(out, "studio> ")
	reply, err := client.Send(context.Background(), history, text, opts, func(c chat.Chunk) {
		fmt.Fprint(out, c.Text)
	})
	if err != nil {
		logger.Warn("chat request failed", "err", err)
		if reply.Text == "" {
			reply = chat.FallbackMessage(err)
			fmt.Fprint(out, reply.Text)
		}
	}
	fmt.Fprintln(out)
	printGrounding(out, reply)

	return append(history, chat.Message{Role: chat.RoleUser, Text: text}, reply)
}

func printTurn(out io.Writer, m chat.Message) {
	switch m.Role {
	case chat.RoleUser:
		fmt.Fprintln(out, "you>", m.Text)
	default:
		fmt.Fprintln(out, "studio>", m.Text)
		printGrounding(out, m)
	}
}

func printGrounding(out io.Writer, m chat.Message) {
	for _, g := range m.GroundingChunks {
		if g.Web == nil {
			continue
		}
		if g.Web.Title != "" {
			fmt.Fprintf(out, "  [%s] %s\n", g.Web.Title, g.Web.URI)
		} else {
			fmt.Fprintf(out, "  [source] %s\n", g.Web.URI)
		}
	}
}

func defaultTranscriptPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "transcript.json"
	}
	return filepath.Join(home, ".studio", "transcript.json")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
