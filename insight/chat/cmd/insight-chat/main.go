package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cfuwib/insightbot/insight/chat/internal/chat"
	"github.com/cfuwib/insightbot/insight/utils/pkg/logger"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts an interactive chat session against the insight API.
//
// Commands:
//   - /new   start a new conversation
//   - /quit  exit
//   - a number picks one of the starter questions on an empty conversation
func run() error {
	verboseFlag := flag.BoolP("verbose", "v", false, "Enable verbose (debug) logging")
	chartDirFlag := flag.String("chart-dir", "charts", "Directory to write plotly figure JSON to")
	noAuthFlag := flag.Bool("no-auth", false, "Skip the username/password prompt")
	flag.Parse()

	log := logger.New(*verboseFlag)
	log.Debug("chat: starting", "version", version, "commit", commit, "date", date)

	cfg, err := chat.LoadFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	in := bufio.NewScanner(os.Stdin)
	out := os.Stdout

	if !*noAuthFlag {
		if err := login(in, out, cfg); err != nil {
			return err
		}
	}

	sessions := chat.NewManager(log, cfg.SessionTTL)
	defer sessions.Close()

	var progress chat.ProgressSource
	if cfg.APIWSURL != "" {
		progress = chat.NewProgressWatcher(log, cfg.APIWSURL, cfg.APIKey)
	}
	processor, err := chat.NewProcessor(&chat.ProcessorConfig{
		Logger:   log,
		API:      chat.NewAPIClient(log, cfg),
		Progress: progress,
		Sessions: sessions,
	})
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}
	defer processor.Close()

	sessionID := uuid.NewString()
	fresh := true
	printStarters(out)

	for {
		fmt.Fprint(out, "\n> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())

		switch line {
		case "/quit", "/exit":
			return nil
		case "/new":
			sessions.End(sessionID)
			sessionID = uuid.NewString()
			fresh = true
			printStarters(out)
			continue
		}
		if fresh {
			if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(chat.Starters) {
				line = chat.Starters[n-1].Message
				fmt.Fprintf(out, "%s\n", line)
			}
		}
		fresh = false

		reply := processor.HandleMessage(ctx, sessionID, line, func(status string) {
			fmt.Fprintf(out, "  … %s\n", status)
		})
		if ctx.Err() != nil {
			return nil
		}
		printReply(out, reply, *chartDirFlag)
	}
	if err := in.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

func login(in *bufio.Scanner, out io.Writer, cfg *chat.Config) error {
	prompt := func(label string) (string, error) {
		fmt.Fprint(out, label)
		if !in.Scan() {
			return "", errors.New("no input")
		}
		return strings.TrimSpace(in.Text()), nil
	}
	username, err := prompt("Username: ")
	if err != nil {
		return err
	}
	password, err := prompt("Password: ")
	if err != nil {
		return err
	}
	if !cfg.Authenticate(username, password) {
		return errors.New("invalid username or password")
	}
	return nil
}

func printStarters(out io.Writer) {
	fmt.Fprintln(out, "CFU Insight Bot. Ketik pertanyaan, /new untuk percakapan baru, /quit untuk keluar.")
	for i, s := range chat.Starters {
		fmt.Fprintf(out, "  %d. %s\n", i+1, s.Label)
	}
}

func printReply(out io.Writer, reply *chat.Reply, chartDir string) {
	fmt.Fprintf(out, "\n%s\n", reply.Content)
	if reply.Chart != "" {
		if path, err := writeChart(chartDir, reply.Chart); err != nil {
			fmt.Fprintf(out, "\n*❌ Gagal menyimpan grafik: %v*\n", err)
		} else {
			fmt.Fprintf(out, "\n📈 Grafik disimpan di %s\n", path)
		}
	}
	if reply.Topic != "" {
		fmt.Fprintf(out, "\nTopik: %s\n", reply.Topic)
	}
	if reply.Recommendation != "" {
		fmt.Fprintf(out, "\nPertanyaan lanjutan: %s\n", reply.Recommendation)
	}
}

func writeChart(dir, figure string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("chart-%s.json", time.Now().Format("20060102-150405")))
	if err := os.WriteFile(path, []byte(figure), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
