package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mail-ingestor/internal/api"
	"mail-ingestor/internal/config"
	"mail-ingestor/internal/credential"
	"mail-ingestor/internal/events"
	"mail-ingestor/internal/logging"
	"mail-ingestor/internal/models"
)

var runFailureCount atomic.Int32

const failureSleepDuration = 30 * time.Minute

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "mailsync",
		Short:         "Ingest and normalize mail from IMAP accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")

	loadConfig := func() (*models.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading configuration file: %w", err)
		}
		logging.SetLevel(cfg.LogLevel)
		return cfg, nil
	}

	var interval time.Duration
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Synchronize every configured account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = cfg.Sync.RefreshTime
			}
			return runFetch(cmd.Context(), cfg, interval)
		},
	}
	fetchCmd.Flags().DurationVar(&interval, "interval", 0, "Repeat the sync at this interval (0 runs once)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (POST /sync streams progress)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	credentialCmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage account passwords stored in the system keyring",
	}
	credentialCmd.AddCommand(
		&cobra.Command{
			Use:   "set <email>",
			Short: "Store the password of an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				password, err := readPassword(args[0])
				if err != nil {
					return err
				}
				creds, err := credential.Open()
				if err != nil {
					return err
				}
				return creds.Set(args[0], password)
			},
		},
		&cobra.Command{
			Use:   "delete <email>",
			Short: "Remove the stored password of an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				creds, err := credential.Open()
				if err != nil {
					return err
				}
				return creds.Delete(args[0])
			},
		},
	)

	rootCmd.AddCommand(fetchCmd, serveCmd, credentialCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Log.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}

// runFetch runs the orchestrator once, or every interval until ctx is cancelled
func runFetch(ctx context.Context, cfg *models.Config, interval time.Duration) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if interval > 0 {
		logging.Log.Infof("Starting mail sync, refresh every %s", interval)
	}

	for {
		outcome := &runOutcome{}
		if _, err := a.runOnce(ctx, events.MultiSink{events.LogSink{}, outcome}); err != nil {
			return err
		}
		if interval <= 0 || ctx.Err() != nil {
			return nil
		}

		wait := interval
		if outcome.allAborted() {
			wait = handleRunFailure(interval)
		} else {
			runFailureCount.Store(0)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func runServe(ctx context.Context, cfg *models.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sinks := append([]events.Sink{events.LogSink{}}, a.sinks...)
	srv := api.NewServer(a.orchestrator, a.accounts, sinks...)
	return srv.ListenAndServe(ctx, cfg.HTTP.Addr)
}

// runOutcome counts account outcomes of one run
type runOutcome struct {
	completed int
	aborted   int
}

func (o *runOutcome) Emit(ev models.SyncEvent) error {
	switch {
	case ev.Type == models.EventAccountComplete:
		o.completed++
	case ev.Type == models.EventError && ev.RemoteID == "":
		o.aborted++
	}
	return nil
}

func (o *runOutcome) allAborted() bool {
	return o.aborted > 0 && o.completed == 0
}

// handleRunFailure increments the failure count and returns the wait before the next run,
// backing off exponentially once every account keeps failing
func handleRunFailure(interval time.Duration) time.Duration {
	failures := runFailureCount.Add(1)

	if failures < 5 {
		return interval
	}

	base := 5 * time.Minute
	maxSteps := int32(10)

	n := failures - 5
	if n > maxSteps {
		n = maxSteps
	}

	backoff := base * time.Duration(1<<n)
	if backoff > failureSleepDuration {
		backoff = failureSleepDuration
	}

	logging.Log.Warnf("All accounts failed %d times in a row, waiting %s before next attempt", failures, backoff)
	return backoff
}

func readPassword(email string) (string, error) {
	fmt.Fprintf(os.Stderr, "Password for %s: ", email)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(data), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
