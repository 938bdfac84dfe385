// Package main is the entry point for the aura binary. It exposes
// the compression pipeline, the audit verifier, and the discovery
// engine as subcommands for operators and tooling.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/auraproto/aura/pkg/accel"
	"github.com/auraproto/aura/pkg/audit"
	"github.com/auraproto/aura/pkg/config"
	"github.com/auraproto/aura/pkg/discovery"
	"github.com/auraproto/aura/pkg/logging"
	"github.com/auraproto/aura/pkg/pipeline"
	"github.com/auraproto/aura/pkg/selector"
	"github.com/auraproto/aura/pkg/telemetry"
	"github.com/auraproto/aura/pkg/template"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for aura
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aura",
		Short: "Template-based message compression with a tamper-evident audit trail",
		Long: `aura compresses conversational AI traffic against a template library,
emits a fixed-size metadata side-channel per message, and records every
operation in hash-chained audit streams.

Example:
  echo "Yes, I can help with that!" | aura compress --session demo`,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newCompressCmd(),
		newDecompressCmd(),
		newVerifyCmd(),
		newDiscoverCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration honoring the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// buildStore loads the template library: the built-in core plus the
// configured store file's discovered partition, if any.
func buildStore(cfg *config.Config) (*template.Store, error) {
	opts := []template.StoreOption{}
	if cfg.Templates.MaxDiscovered > 0 {
		opts = append(opts, template.WithMaxDiscovered(cfg.Templates.MaxDiscovered))
	}
	store, err := template.NewStore(nil, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Templates.File != "" {
		_, discovered, err := template.LoadFile(cfg.Templates.File)
		if err != nil {
			return nil, fmt.Errorf("load template file: %w", err)
		}
		if err := store.ReplaceDiscovered(discovered); err != nil {
			return nil, fmt.Errorf("install discovered templates: %w", err)
		}
	}
	return store, nil
}

// buildPipeline assembles the pipeline from configuration, starting
// the store watcher and the background discovery loop when enabled,
// and returns a cleanup function that stops them and flushes the
// audit sink and any telemetry exporter.
func buildPipeline(cmd *cobra.Command) (*pipeline.Pipeline, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Output: os.Stderr})

	store, err := buildStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	shutdownTracing, err := telemetry.SetupProvider(cmd.Context(), telemetry.Config{
		ServiceName: "aura",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, nil, err
	}

	metrics := pipeline.NewMetrics()
	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithSelector(selector.New(
			selector.WithHeaderOverhead(cfg.Selector.HeaderOverheadBytes),
			selector.WithLogger(logger),
		)),
		pipeline.WithAccelerator(accel.New(
			accel.WithSessionCapacity(cfg.Cache.SessionCacheCapacity),
			accel.WithLogger(logger),
		)),
	}
	var sink *audit.Sink
	if cfg.Audit.EnableAuditLogging {
		sink, err = audit.Open(audit.Config{
			Dir:          cfg.Audit.Dir,
			Secret:       []byte(cfg.Audit.Secret),
			Strict:       cfg.Audit.StrictMode,
			PendingLimit: cfg.Audit.PendingLimit,
			Logger:       logger,
		})
		if err != nil {
			_ = shutdownTracing(cmd.Context())
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithAuditSink(sink))
	}
	p := pipeline.New(store, opts...)

	var watcher *template.Watcher
	if cfg.Templates.Watch && cfg.Templates.File != "" {
		watcher, err = template.NewWatcher(store, cfg.Templates.File, logger,
			template.WithReloadHook(metrics.RecordStoreReload))
		if err != nil {
			if sink != nil {
				_ = sink.Close()
			}
			_ = shutdownTracing(cmd.Context())
			return nil, nil, err
		}
	}

	stopDiscovery := func() {}
	if cfg.Discovery.Enabled {
		engine := discovery.New(store,
			discovery.WithMinSupport(cfg.Discovery.MinSupport),
			discovery.WithHoldoutFraction(cfg.Discovery.ValidationHoldoutFraction),
			discovery.WithLogger(logger),
			discovery.WithPromotionHook(metrics.RecordPromotions),
		)
		ctx, cancel := context.WithCancel(cmd.Context())
		stopDiscovery = cancel
		go engine.Run(ctx, time.Duration(cfg.Discovery.IntervalSeconds)*time.Second, p.RecentMessages)
	}

	cleanup := func() {
		stopDiscovery()
		if watcher != nil {
			if err := watcher.Close(); err != nil {
				logger.Error("closing store watcher", "error", err)
			}
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				logger.Error("closing audit sink", "error", err)
			}
		}
		if err := shutdownTracing(cmd.Context()); err != nil {
			logger.Error("shutting down tracing", "error", err)
		}
	}
	return p, cleanup, nil
}

func readInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

func newCompressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress [text]",
		Short: "Compress a message and print the payload and metadata as hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cleanup, err := buildPipeline(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			text, err := readInput(args)
			if err != nil {
				return err
			}
			res, err := p.Compress(cmd.Context(), sessionID(cmd), text, 0)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "method: %s\nfallback: %v\npayload: %s\nmetadata: %s\n",
				res.Method, res.Fallback,
				hex.EncodeToString(res.Payload),
				hex.EncodeToString(res.Metadata.Bytes()))
			return nil
		},
	}
	cmd.Flags().StringP("session", "s", "", "Session id for accelerator and audit attribution (default: random)")
	return cmd
}

// sessionID returns the --session flag, or a fresh random id so
// unattributed CLI calls still audit distinctly.
func sessionID(cmd *cobra.Command) string {
	if s, _ := cmd.Flags().GetString("session"); s != "" {
		return s
	}
	return uuid.NewString()
}

func newDecompressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompress <payload-hex>",
		Short: "Decode a hex payload back to the original message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cleanup, err := buildPipeline(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			payload, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("payload is not valid hex: %w", err)
			}
			text, err := p.Decompress(cmd.Context(), sessionID(cmd), payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringP("session", "s", "", "Session id for audit attribution (default: random)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chains of all audit streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sink, err := audit.Open(audit.Config{
				Dir:    cfg.Audit.Dir,
				Secret: []byte(cfg.Audit.Secret),
				Strict: true,
			})
			if err != nil {
				return err
			}
			defer sink.Close()

			failed := false
			for _, id := range []audit.Stream{
				audit.StreamMain, audit.StreamAIGenerated, audit.StreamMetadata, audit.StreamSafety,
			} {
				res, err := sink.Verify(id)
				if err != nil {
					return err
				}
				if res.OK {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d records)\n", id, res.Records)
					continue
				}
				failed = true
				fmt.Fprintf(cmd.OutOrStdout(), "%s: TAMPERED at record %d\n", id, res.FirstBad)
			}
			if failed {
				return fmt.Errorf("chain verification failed")
			}
			return nil
		},
	}
}

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover <corpus-file>",
		Short: "Mine a corpus for templates and optionally write a store file",
		Long: `Reads one message per line from the corpus file, mines recurring
skeletons, validates them against a holdout slice, and prints the
surviving candidates. With --out, the promoted library is written as
a template store file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Output: os.Stderr})

			corpus, err := readCorpus(args[0])
			if err != nil {
				return err
			}
			store, err := buildStore(cfg)
			if err != nil {
				return err
			}
			engine := discovery.New(store,
				discovery.WithMinSupport(cfg.Discovery.MinSupport),
				discovery.WithHoldoutFraction(cfg.Discovery.ValidationHoldoutFraction),
				discovery.WithLogger(logger),
			)

			cands := engine.Discover(corpus)
			if len(cands) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no candidates survived validation")
				return nil
			}
			for _, cand := range cands {
				fmt.Fprintf(cmd.OutOrStdout(), "support=%d train_gain=%d holdout_gain=%d pattern=%q\n",
					cand.Support, cand.TrainGain, cand.HoldoutGain, cand.Pattern)
			}

			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				return nil
			}
			if err := engine.Promote(cands); err != nil {
				return err
			}
			if err := template.SaveFile(out, store.Snapshot()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", "", "Write the promoted template library to this store file")
	return cmd
}

func readCorpus(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var corpus []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			corpus = append(corpus, line)
		}
	}
	return corpus, scanner.Err()
}
