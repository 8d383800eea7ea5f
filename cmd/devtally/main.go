package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/devtally/devtally/internal/badges"
	"github.com/devtally/devtally/internal/cert"
	"github.com/devtally/devtally/internal/collector"
	"github.com/devtally/devtally/internal/config"
	"github.com/devtally/devtally/internal/daemon"
	"github.com/devtally/devtally/internal/notify"
	"github.com/devtally/devtally/internal/shared"
	"github.com/devtally/devtally/internal/signing"
	"github.com/devtally/devtally/internal/stats"
	"github.com/devtally/devtally/internal/store"
	"github.com/devtally/devtally/internal/syncer"
	"github.com/devtally/devtally/internal/track"
)

var (
	configPath = flag.String("config", "", "Config file path (default ~/.devtally/config.json)")
	format     = flag.String("format", "table", "Output format: table or json")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "hook":
		handleHook(cfg, args[1:])
	case "stats":
		handleStats(cfg)
	case "sessions":
		handleSessions(cfg)
	case "badges":
		handleBadges(cfg, args[1:])
	case "cert":
		handleCert(cfg, args[1:])
	case "export":
		handleExport(cfg)
	case "sync":
		handleSync(cfg)
	case "import":
		handleImport(cfg, args[1:])
	case "daemon":
		handleDaemon(cfg)
	case "device":
		handleDevice(cfg)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) *store.Store {
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return st
}

func idleThreshold(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Session.IdleThresholdMinutes) * time.Minute
}

// computeFullStats derives stats with badges applied, the way every
// user-facing command wants them.
func computeFullStats(cfg *config.Config, st *store.Store) (stats.UserStats, []badges.EarnedBadge, error) {
	userStats, err := stats.ComputeFromStore(st, idleThreshold(cfg))
	if err != nil {
		return stats.UserStats{}, nil, err
	}
	earned := badges.NewEngine(badges.Catalog(), nil).Evaluate(userStats)
	userStats.ApplyBadges(badges.IDs(earned))
	return userStats, earned, nil
}

// handleHook is the shim entry point. Tracking failures must never break the
// host pipeline: they are logged and the process still exits 0.
func handleHook(cfg *config.Config, args []string) {
	logger, err := shared.NewLogger(true)
	if err != nil {
		return
	}
	defer logger.Sync()

	if len(args) == 0 {
		logger.Warn("hook invoked without an event name")
		return
	}
	event, err := track.ParseHookEvent(args[0])
	if err != nil {
		logger.Warn("hook dropped", zap.Error(err))
		return
	}

	var payload track.HookPayload
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		logger.Warn("hook payload decode failed", zap.Error(err))
		return
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Warn("hook dropped: store unavailable", zap.Error(err))
		return
	}
	defer st.Close()

	tracker, err := track.NewTracker(cfg, st, logger)
	if err != nil {
		logger.Warn("hook dropped: tracker build failed", zap.Error(err))
		return
	}

	if err := tracker.HandleHook(context.Background(), event, payload); err != nil {
		logger.Warn("hook failed", zap.String("event", string(event)), zap.Error(err))
	}
}

func handleStats(cfg *config.Config) {
	st := openStore(cfg, nil)
	defer st.Close()

	userStats, _, err := computeFullStats(cfg, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *format == "json" {
		printJSON(userStats)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintf(w, "ACTIVE_HOURS\t%.2f\n", userStats.TotalHours)
	fmt.Fprintf(w, "SESSIONS\t%d\n", userStats.TotalSessions)
	fmt.Fprintf(w, "INTERACTIONS\t%d\n", userStats.TotalInteractions)
	fmt.Fprintf(w, "BADGES\t%d\n", len(userStats.Badges))
	fmt.Fprintf(w, "SCORE\t%.1f\n", userStats.Score)
	w.Flush()

	if len(userStats.ByTool) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TOOL\tHOURS\tSESSIONS\tINTERACTIONS\tACCEPT_RATE\tEDIT_RATE")
		for _, tool := range sortedTools(userStats) {
			entry := userStats.ByTool[tool]
			fmt.Fprintf(w, "%s\t%.2f\t%d\t%d\t%.2f\t%.2f\n",
				tool, entry.Hours, entry.Sessions, entry.Interactions, entry.AcceptRate, entry.EditRate)
		}
		w.Flush()
	}
}

func handleSessions(cfg *config.Config) {
	st := openStore(cfg, nil)
	defer st.Close()

	sessions, err := st.GetAllSessions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *format == "json" {
		printJSON(sessions)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTOOL\tSTARTED_AT\tENDED_AT\tPROJECT")
	for _, s := range sessions {
		ended := "-"
		if s.EndTime != nil {
			ended = s.EndTime.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Tool, s.StartTime.Format("2006-01-02 15:04:05"), ended, s.ProjectPath)
	}
	w.Flush()
}

func handleBadges(cfg *config.Config, args []string) {
	st := openStore(cfg, nil)
	defer st.Close()

	_, earned, err := computeFullStats(cfg, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(args) > 0 && args[0] == "notify" {
		notifyBadges(cfg, earned)
		return
	}

	if *format == "json" {
		printJSON(earned)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BADGE\tTIER\tPROGRESS")
	for _, badge := range earned {
		tier := "-"
		if badge.Tier != "" {
			tier = string(badge.Tier)
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\n", badge.BadgeID, tier, badge.Progress)
	}
	w.Flush()
}

func notifyBadges(cfg *config.Config, earned []badges.EarnedBadge) {
	webhook, err := notify.NewWebhook(cfg.Notify.Discord, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	for _, badge := range earned {
		if err := webhook.BadgeEarned(ctx, badge); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Notified %d badges\n", len(earned))
}

func handleCert(cfg *config.Config, args []string) {
	st := openStore(cfg, nil)
	defer st.Close()

	userStats, _, err := computeFullStats(cfg, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	userID := cfg.Sync.UserID
	if userID == "" {
		userID = "local"
	}
	certificate, err := cert.Generate(userStats, userID, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	output := "json"
	if len(args) > 0 {
		output = args[0]
	}

	switch output {
	case "json":
		printJSON(certificate)
	case "svg":
		rendered, err := cert.RenderSVG(certificate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(rendered)
	case "html":
		rendered, err := cert.RenderHTML(certificate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(rendered)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown cert output %q (json, svg, html)\n", output)
		os.Exit(1)
	}
}

func handleExport(cfg *config.Config) {
	st := openStore(cfg, nil)
	defer st.Close()

	sessions, err := st.GetAllSessions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	interactions, err := st.GetAllInteractions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	printJSON(map[string]any{
		"exported_at":  time.Now().UTC().Format(time.RFC3339),
		"sessions":     sessions,
		"interactions": interactions,
	})
}

func handleSync(cfg *config.Config) {
	if !cfg.Sync.Enabled {
		fmt.Fprintf(os.Stderr, "Error: sync is not enabled in config\n")
		os.Exit(1)
	}

	st := openStore(cfg, nil)
	defer st.Close()

	keyring, err := signing.LoadOrCreateKey(cfg.KeyPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sy, err := syncer.NewSyncer(cfg, st, signing.NewSigner(keyring), badges.NewEngine(badges.Catalog(), nil), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if webhook, err := notify.NewWebhook(cfg.Notify.Discord, nil); err == nil {
		sy.SetNotifier(webhook)
	}

	result, err := sy.Sync(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *format == "json" {
		printJSON(result)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintf(w, "SYNCED\t%t\n", result.Synced)
	fmt.Fprintf(w, "ACCEPTED\t%t\n", result.Accepted)
	if result.TrustLevel != "" {
		fmt.Fprintf(w, "TRUST_LEVEL\t%s\n", result.TrustLevel)
	}
	fmt.Fprintf(w, "SIGNED_EVENTS\t%d\n", result.SignedEvents)
	fmt.Fprintf(w, "DROPPED_EVENTS\t%d\n", result.DroppedEvents)
	w.Flush()
}

func handleImport(cfg *config.Config, args []string) {
	url := cfg.Import.OpenCodeURL
	if len(args) > 0 {
		url = args[0]
	}
	if url == "" {
		fmt.Fprintf(os.Stderr, "Error: import requires an opencode server URL (argument or import.opencode_url)\n")
		os.Exit(1)
	}

	st := openStore(cfg, nil)
	defer st.Close()

	directory, _ := os.Getwd()
	importer := collector.NewOpenCodeImporter(url, directory, st, nil)
	result, err := importer.Import(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Imported %d sessions (%d skipped)\n", result.Imported, result.Skipped)
}

func handleDaemon(cfg *config.Config) {
	logger, err := shared.NewLogger(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st := openStore(cfg, logger)
	defer st.Close()

	var sy *syncer.Syncer
	if cfg.Sync.Enabled {
		keyring, err := signing.LoadOrCreateKey(cfg.KeyPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		sy, err = syncer.NewSyncer(cfg, st, signing.NewSigner(keyring), badges.NewEngine(badges.Catalog(), nil), logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if webhook, err := notify.NewWebhook(cfg.Notify.Discord, logger); err == nil {
			sy.SetNotifier(webhook)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.New(cfg, st, sy, logger).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleDevice(cfg *config.Config) {
	keyring, err := signing.LoadOrCreateKey(cfg.KeyPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *format == "json" {
		printJSON(map[string]string{
			"device_id": keyring.DeviceID(),
			"key_path":  cfg.KeyPath(),
		})
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintf(w, "DEVICE_ID\t%s\n", keyring.DeviceID())
	fmt.Fprintf(w, "KEY_PATH\t%s\n", cfg.KeyPath())
	w.Flush()
}

func sortedTools(s stats.UserStats) []shared.ToolKind {
	tools := make([]shared.ToolKind, 0, len(s.ByTool))
	for tool := range s.ByTool {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i] < tools[j] })
	return tools
}

func printJSON(data interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `devtally - local AI coding assistant usage tracker

Usage:
  devtally [global-flags] <command> [args]

Global Flags:
  -config string
        Config file path (default ~/.devtally/config.json)
  -format string
        Output format: table or json (default "table")

Commands:
  hook <event>                     Process a shim lifecycle callback
                                   (payload JSON on stdin; events:
                                   session-start, user-prompt, pre-tool-use,
                                   post-tool-use, interaction, pre-compact,
                                   session-end)

  stats                            Show derived usage statistics
  sessions                         List recorded sessions
  badges                           List earned badges
  badges notify                    Send earned badges to the Discord webhook

  cert [json|svg|html]             Generate a verifiable stats certificate
  export                           Dump the raw event store as JSON

  sync                             Sync stats to the leaderboard now
  import [url]                     Import sessions from an OpenCode server
  daemon                           Run the live feed / metrics / sync daemon

  device                           Show the device id and key location
  help                             Show this help message

Examples:
  echo '{"tool":"claude-code"}' | devtally hook session-start
  devtally stats
  devtally -format json badges
  devtally cert svg > badge.svg
`)
}
