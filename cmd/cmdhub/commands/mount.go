package commands

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"

	"github.com/cmdhub/cmdhub/internal/aggregate"
	"github.com/cmdhub/cmdhub/internal/annotation"
	"github.com/cmdhub/cmdhub/internal/config"
	"github.com/cmdhub/cmdhub/internal/dispatcher"
	"github.com/cmdhub/cmdhub/internal/event"
	"github.com/cmdhub/cmdhub/internal/fuseadapter"
	"github.com/cmdhub/cmdhub/internal/logging"
	"github.com/cmdhub/cmdhub/internal/policy"
	"github.com/cmdhub/cmdhub/internal/session"
	"github.com/cmdhub/cmdhub/internal/stream"
	"github.com/cmdhub/cmdhub/internal/timetravel"
	"github.com/cmdhub/cmdhub/internal/vfs"
)

var (
	projectID string
	dbPath    string
	debug     bool
)

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Mount a project's event-sourced state as a filesystem",
	Long: `Mount validates tool calls from connected agents through the speed-layer
dispatcher, folds accepted commands into the event log, and exposes the
resulting project state as a FUSE filesystem at the given mountpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().StringVar(&projectID, "project", "default", "project identifier")
	mountCmd.Flags().StringVar(&dbPath, "db", "", "event log database path (default: ~/.config/cmdhub/<project>.db)")
	mountCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func runMount(cmd *cobra.Command, args []string) error {
	mountpoint := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Session.HMACSecret == "" {
		return fmt.Errorf("session secret is required. Set via CMDHUB_SESSION_SECRET env var or config file")
	}

	logger, err := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.File)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	if dbPath == "" {
		home, _ := os.UserHomeDir()
		dbPath = filepath.Join(home, ".config", "cmdhub", projectID+".db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	store, err := event.OpenSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	rules := policy.DefaultRules()
	if cfg.Dispatcher.PolicyRuleFile != "" {
		rules, err = loadPolicyRules(cfg.Dispatcher.PolicyRuleFile)
		if err != nil {
			return fmt.Errorf("load policy rules: %w", err)
		}
	}

	disp := dispatcher.New(dispatcher.Config{
		RatePerSecond:         cfg.Dispatcher.RatePerSecond,
		L1Capacity:            cfg.Dispatcher.L1Capacity,
		PolicyRules:           rules,
		L3ConfidenceThreshold: cfg.Dispatcher.L3ConfidenceThreshold,
		ExpertTimeout:         cfg.Dispatcher.ExpertTimeout,
		ExpertQueueCapacity:   cfg.Dispatcher.ExpertQueueCapacity,
	})

	agg := aggregate.New(projectID, disp, aggregate.DefaultConfig())
	if err := hydrate(agg, store); err != nil {
		return fmt.Errorf("hydrate aggregate from event log: %w", err)
	}

	recon := timetravel.New(store, nil)
	sessions := session.New([]byte(cfg.Session.HMACSecret))
	hub := stream.New(stream.Config{BufferSize: cfg.Stream.BufferSize})
	annotator := annotation.NewDispatch()

	v := vfs.New(vfs.Config{
		Aggregate:     agg,
		Reconstructor: recon,
		Sessions:      sessions,
		Hub:           hub,
		Annotator:     annotator,
	})

	mountSessionID, err := mountHandshake(sessions, cfg.Session.HMACSecret)
	if err != nil {
		return fmt.Errorf("mount session handshake: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopFlush := startEventFlush(ctx, agg, store, logger)
	defer stopFlush()

	server, err := fuseadapter.Mount(mountpoint, v, mountSessionID, debug)
	if err != nil {
		return fmt.Errorf("mount filesystem: %w", err)
	}

	logger.Infof("mounted cmdhub filesystem at %s", mountpoint)
	logger.Infof("press Ctrl+C to unmount")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Infof("unmounting filesystem...")
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("failed to unmount: %w", err)
	}

	logger.Infof("filesystem unmounted successfully")
	return nil
}

// hydrate replays every stored event for projectID back through the
// aggregate at startup, the event-sourced analogue of teacher's
// sync.Worker priming its in-memory cache from db.Store on boot.
func hydrate(agg *aggregate.Aggregate, store event.Store) error {
	events, err := store.Load(context.Background(), projectID)
	if err != nil {
		return err
	}
	agg.LoadHistory(events)
	return nil
}

// loadPolicyRules reads a YAML file of policy.RuleSpec entries.
func loadPolicyRules(path string) ([]policy.RuleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []policy.RuleSpec
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse policy rule file: %w", err)
	}
	return rules, nil
}

// mountHandshake opens the one session the FUSE mount authenticates
// every VFS call with, computing the expected HMAC response itself
// since the mount process and the session manager share the secret.
func mountHandshake(sessions *session.Manager, secret string) (string, error) {
	const agentID = "fuse-mount"
	const challenge = "mount"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(agentID + ":" + challenge))
	response := hex.EncodeToString(mac.Sum(nil))
	sess, err := sessions.Handshake(agentID, challenge, response, map[string]any{"mount": true})
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// startEventFlush periodically drains the aggregate's uncommitted
// events into the durable store, grounded on teacher's
// internal/sync.Worker ticker-driven background loop. Returns a stop
// function that flushes one final time before returning.
func startEventFlush(ctx context.Context, agg *aggregate.Aggregate, store event.Store, logger *logging.Logger) func() {
	done := make(chan struct{})
	stop := make(chan struct{})
	flush := func() {
		for _, ev := range agg.UncommittedEvents() {
			if err := store.AppendExpectingSeq(ctx, ev); err != nil {
				logger.Errorf("failed to persist event seq=%d: %v", ev.Sequence, err)
			}
		}
	}
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				flush()
				close(done)
				return
			case <-stop:
				flush()
				close(done)
				return
			case <-ticker.C:
				flush()
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
