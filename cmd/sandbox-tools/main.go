package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/user/sandboxtools/internal/config"
	"github.com/user/sandboxtools/internal/controller"
	"github.com/user/sandboxtools/internal/history"
	"github.com/user/sandboxtools/internal/hub"
	"github.com/user/sandboxtools/internal/server"
	"github.com/user/sandboxtools/internal/session"
)

const usage = `usage: sandbox-tools <command> [flags]

commands:
  exec     forward one JSON-RPC request from stdin to the daemon
  serve    run the daemon in the foreground
  history  show recent sessions and jobs
`

func main() {
	// stdout carries RPC responses; everything else goes to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "exec":
		err = runExec(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "history":
		err = runHistory(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox-tools %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	cfg, err := config.Load("serve", args)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *history.Store
	if cfg.HistoryPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
		store, err = history.Open(ctx, cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
	}

	registry := session.NewRegistry()
	jobs := session.NewJobs()
	defer func() {
		names := registry.Names()
		registry.CloseAll(5 * time.Second)
		jobs.KillAll(5 * time.Second)
		if store != nil {
			// The signal context is already cancelled by now.
			recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, name := range names {
				if err := store.SessionEnded(recordCtx, name); err != nil {
					slog.Warn("history record failed", "error", err)
				}
			}
		}
	}()

	h := hub.New(cfg.AttachToken)
	go h.Run(ctx)

	mb := controller.NewMuxBuilder()
	controller.NewBash(registry, store, h, []string{cfg.Shell}).Register(mb)
	controller.NewExecRemote(jobs, store, h).Register(mb)
	controller.NewExecPlus().Register(mb)
	mux, err := mb.Build()
	if err != nil {
		return err
	}

	return server.New(cfg, mux, h).Start(ctx)
}

func runExec(args []string) error {
	cfg, err := config.Load("exec", args)
	if err != nil {
		return err
	}

	request, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read request from stdin: %w", err)
	}

	client := socketClient(cfg.SocketPath)
	resp, err := postRequest(client, request)
	if err != nil {
		// No daemon yet. Start one and retry.
		if startErr := startDaemon(cfg); startErr != nil {
			return fmt.Errorf("daemon not reachable and could not be started: %w", startErr)
		}
		resp, err = postRequest(client, request)
		if err != nil {
			return fmt.Errorf("daemon unreachable after start: %w", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func runHistory(args []string) error {
	cfg, err := config.Load("history", args)
	if err != nil {
		return err
	}
	if cfg.HistoryPath == "" {
		return fmt.Errorf("history is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := history.Open(ctx, cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	sessions, err := store.RecentSessions(ctx, 20)
	if err != nil {
		return err
	}
	jobs, err := store.RecentJobs(ctx, 20)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tENDED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.StartedAt, s.EndedAt)
	}
	fmt.Fprintln(w, "\nPID\tSTATE\tEXIT\tSTARTED\tCOMMAND")
	for _, j := range jobs {
		exit := "-"
		if j.ExitCode != nil {
			exit = fmt.Sprint(*j.ExitCode)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", j.Pid, j.State, exit, j.StartedAt, j.Command)
	}
	return w.Flush()
}

func socketClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

func postRequest(client *http.Client, request []byte) (*http.Response, error) {
	return client.Post("http://daemon/rpc", "application/json", strings.NewReader(string(request)))
}

// startDaemon launches this binary's serve subcommand detached from
// the caller and waits for its socket to come up.
func startDaemon(cfg *config.Config) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own binary: %w", err)
	}

	logPath := cfg.SocketPath + ".log"
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(self, "serve", "-socket", cfg.SocketPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	// The daemon outlives this process; nobody waits on it.
	go cmd.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.DialTimeout("unix", cfg.SocketPath, time.Second); err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("daemon socket %s never came up", cfg.SocketPath)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
