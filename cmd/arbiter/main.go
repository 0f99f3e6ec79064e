package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/internal/collector"
	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/consensus"
	"github.com/arbiterhq/arbiter/internal/contextview"
	"github.com/arbiterhq/arbiter/internal/core"
	"github.com/arbiterhq/arbiter/internal/export"
	"github.com/arbiterhq/arbiter/internal/pipeline"
	"github.com/arbiterhq/arbiter/internal/pool"
	"github.com/arbiterhq/arbiter/internal/reasoner"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/arbiterhq/arbiter/internal/storage"
	"github.com/arbiterhq/arbiter/web/handlers"
)

var (
	dbPath    string
	cfgPath   string
	appConfig *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Multi-perspective deliberation tool",
	Long: `arbiter runs structured deliberations over a proposal.

Perspective workers analyze shared domain reports, argue through bounded
debate rounds, and a synthesizer turns the outcome into a sized decision.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgPath != "" {
			appConfig, err = config.LoadFrom(cfgPath)
		} else {
			appConfig, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.arbiter/arbiter.db)")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: ~/.arbiter/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(reasonersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

func getStorage() (storage.Storage, error) {
	path := dbPath
	if path == "" && appConfig != nil && appConfig.Storage.Path != "" {
		path = appConfig.Storage.Path
	}
	if path == "" {
		path = config.DefaultStoragePath()
	}

	st, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}

	if err := st.Initialize(); err != nil {
		return nil, err
	}

	return st, nil
}

func getRegistry() *reasoner.Registry {
	if appConfig != nil {
		return appConfig.CreateRegistry()
	}
	return config.Default().CreateRegistry()
}

// ============================================================================
// RUN COMMAND
// ============================================================================

var runCmd = &cobra.Command{
	Use:   "run [proposal]",
	Short: "Run a deliberation over a proposal",
	Long: `Run a full deliberation session: collect domain reports, run the
analysis stage, debate until consensus or the round cap, and synthesize
a decision.

Examples:
  arbiter run "AAPL" --reports ./reports
  arbiter run "Should we enter the EU market?" --roles advocate,critic,analyst
  arbiter run "NVDA" --reports ./reports --analysts analyst --rounds 5
  arbiter run "TSLA" --reasoner gemini --reports ./reports`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSession,
}

var (
	reportsFlag  string
	rolesFlag    string
	analystsFlag string
	reasonerFlag string
	modelFlag    string
	roundsFlag   int
)

func init() {
	runCmd.Flags().StringVar(&reportsFlag, "reports", "", "Directory with per-domain report files (market.md, news.txt, ...)")
	runCmd.Flags().StringVar(&rolesFlag, "roles", "advocate,critic,analyst", "Debate perspectives (comma-separated)")
	runCmd.Flags().StringVar(&analystsFlag, "analysts", "", "Pre-debate analysis perspectives (comma-separated)")
	runCmd.Flags().StringVar(&reasonerFlag, "reasoner", "", "Reasoning adapter (default from config)")
	runCmd.Flags().StringVar(&modelFlag, "model", "", "Model override for the adapter")
	runCmd.Flags().IntVarP(&roundsFlag, "rounds", "r", 0, "Debate round cap (default from config)")
}

// buildWorkers resolves role names against the configured perspective
// catalogue and binds them to the chosen reasoner.
func buildWorkers(spec string, re reasoner.Reasoner) ([]pool.Worker, error) {
	prompts := make(map[core.Role]string)
	for _, p := range appConfig.Perspectives() {
		prompts[p.Role] = p.SystemPrompt
	}

	var workers []pool.Worker
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		role := core.Role(name)
		prompt, ok := prompts[role]
		if !ok {
			return nil, fmt.Errorf("unknown perspective: %s", name)
		}
		workers = append(workers, pool.Worker{
			Role:         role,
			Reasoner:     re,
			SystemPrompt: prompt,
		})
	}
	return workers, nil
}

func runSession(cmd *cobra.Command, args []string) error {
	proposal := strings.Join(args, " ")

	st, err := getStorage()
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer st.Close()

	reasonerName := reasonerFlag
	if reasonerName == "" {
		reasonerName = appConfig.Defaults.Reasoner
	}
	re, err := appConfig.CreateReasoner(reasonerName)
	if err != nil {
		return err
	}
	if modelFlag != "" {
		cfg, _ := appConfig.GetReasoner(reasonerName)
		cfg.Model = modelFlag
		appConfig.Reasoners[reasonerName] = cfg
		if re, err = appConfig.CreateReasoner(reasonerName); err != nil {
			return err
		}
	}
	if !re.Available() {
		return fmt.Errorf("reasoner %s is not installed", reasonerName)
	}

	debateWorkers, err := buildWorkers(rolesFlag, re)
	if err != nil {
		return err
	}
	if len(debateWorkers) == 0 {
		return fmt.Errorf("at least one debate perspective is required")
	}
	var analystWorkers []pool.Worker
	if analystsFlag != "" {
		if analystWorkers, err = buildWorkers(analystsFlag, re); err != nil {
			return err
		}
	}

	var collectors []collector.Collector
	if reportsFlag != "" {
		collectors, err = collector.FromDir(reportsFlag, core.AllDomains)
		if err != nil {
			return err
		}
		if len(collectors) == 0 {
			return fmt.Errorf("no report files found in %s", reportsFlag)
		}
	}

	debateCfg := appConfig.DebateConfig()
	if roundsFlag > 0 {
		debateCfg.MaxRounds = roundsFlag
	}

	analysisStore := store.New()
	builder := contextview.NewBuilder(analysisStore, appConfig.ViewOptions())
	opts := pipeline.Options{
		Collectors:       collectors,
		OptionalDomains:  appConfig.OptionalDomainSet(),
		Store:            analysisStore,
		Pool:             pool.New(builder, reasoner.DefaultRetryPolicy()),
		Detector:         consensus.NewDetector(appConfig.Weights.Signals),
		Synthesizer:      consensus.NewSynthesizer(appConfig.Weights.Quality, appConfig.Risk.Scenarios, appConfig.RiskParams(), appConfig.StanceFunc()),
		AnalystWorkers:   analystWorkers,
		DebateWorkers:    debateWorkers,
		Debate:           debateCfg,
		WorkerTimeout:    appConfig.Defaults.WorkerTimeout,
		RelaxedFactor:    appConfig.Defaults.RelaxedFactor,
		AbortOnAmbiguous: appConfig.Defaults.AbortOnAmbiguous,
	}

	consumer := pipeline.ConsumerFuncs{
		Decision: func(s *core.Session, d *core.Decision) {
			if err := st.CreateSession(s); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to save session: %v\n", err)
			}
		},
		Abort: func(s *core.Session, _ *core.PipelineAbortedError) {
			if err := st.CreateSession(s); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to save session: %v\n", err)
			}
		},
	}

	fmt.Printf("\nDeliberation: %s\n", proposal)
	fmt.Printf("   Perspectives: %s\n", rolesFlag)
	if analystsFlag != "" {
		fmt.Printf("   Analysts: %s\n", analystsFlag)
	}
	fmt.Printf("   Reasoner: %s | Rounds: up to %d\n\n", reasonerName, debateCfg.MaxRounds)
	fmt.Println(strings.Repeat("-", 60))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nInterrupted. Aborting session...")
		cancel()
	}()

	session, err := pipeline.New(opts, consumer).Run(ctx, proposal)
	if err != nil {
		return fmt.Errorf("deliberation failed: %w", err)
	}

	showSession(session)
	fmt.Printf("\nSaved as: %s\n", session.ID[:8])
	return nil
}

func showSession(session *core.Session) {
	fmt.Printf("\n%s\n", strings.Repeat("=", 60))
	fmt.Printf("DECISION: %s\n", session.Proposal)
	fmt.Println(strings.Repeat("=", 60))

	if session.Assessment != nil {
		a := session.Assessment
		fmt.Printf("\nConsensus: %s (agreement %.2f, %d rounds)\n",
			a.Type, a.AgreementScore, len(session.Transcript.Rounds))
		for _, p := range a.DissentPoints {
			fmt.Printf("  dissent: %s\n", p)
		}
	}

	if session.Decision != nil {
		d := session.Decision
		fmt.Printf("\nAction:     %s\n", strings.ToUpper(string(d.Action)))
		fmt.Printf("Confidence: %.2f\n", d.Confidence)
		fmt.Printf("Sizing:     %.4f\n", d.Sizing)
		fmt.Printf("EV:         %.2f\n", d.ExpectedValue)
		fmt.Printf("\n%s\n", d.Rationale)
	}
}

// ============================================================================
// SESSIONS COMMAND
// ============================================================================

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Short:   "List deliberation sessions",
	Aliases: []string{"list"},
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.ListSessions(50, 0)
		if err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found. Start one with: arbiter run \"Your proposal\"")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROPOSAL\tSTATUS\tROLES\tROUNDS\tACTION\tCREATED")
		for _, s := range sessions {
			shortProposal := s.Proposal
			if len(shortProposal) > 35 {
				shortProposal = shortProposal[:32] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				s.ID[:8],
				shortProposal,
				s.Status,
				s.RoleCount,
				s.RoundCount,
				s.Action,
				s.CreatedAt.Format("2006-01-02 15:04"),
			)
		}
		w.Flush()

		return nil
	},
}

// ============================================================================
// SHOW COMMAND
// ============================================================================

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show session details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		session, err := findSessionByPrefix(st, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("\nDeliberation: %s\n", session.Proposal)
		fmt.Printf("   ID: %s\n", session.ID)
		fmt.Printf("   Status: %s\n", session.Status)
		fmt.Printf("   Perspectives: %s\n", joinRoles(session.Roles))
		fmt.Printf("   Created: %s\n", session.CreatedAt.Format(time.RFC3339))
		fmt.Println()

		if len(session.Analysis) > 0 {
			fmt.Println(strings.Repeat("-", 60))
			fmt.Println("ANALYSIS")
			for _, r := range session.Analysis {
				printResult(r)
			}
		}

		for _, round := range session.Transcript.Rounds {
			fmt.Println(strings.Repeat("-", 60))
			fmt.Printf("ROUND %d\n", round.Index+1)
			for _, r := range round.Results {
				printResult(r)
			}
		}

		showSession(session)
		return nil
	},
}

func printResult(r core.PerspectiveResult) {
	fmt.Printf("\n[%s]\n", r.Role)
	if r.Succeeded {
		fmt.Println(r.Content)
	} else {
		fmt.Printf("(no output: %s)\n", r.ErrKind)
	}
}

func joinRoles(roles []core.Role) string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return strings.Join(out, ", ")
}

// ============================================================================
// DELETE COMMAND
// ============================================================================

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		session, err := findSessionByPrefix(st, args[0])
		if err != nil {
			return err
		}

		if err := st.DeleteSession(session.ID); err != nil {
			return err
		}

		fmt.Printf("Deleted session: %s\n", session.ID)
		return nil
	},
}

// ============================================================================
// EXPORT COMMAND
// ============================================================================

var exportCmd = &cobra.Command{
	Use:   "export [id] [format]",
	Short: "Export session to file",
	Long: `Export a session to markdown, PDF, or JSON.

Examples:
  arbiter export abc123 markdown
  arbiter export abc123 pdf
  arbiter export abc123 json -o session.json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStorage()
		if err != nil {
			return err
		}
		defer st.Close()

		session, err := findSessionByPrefix(st, args[0])
		if err != nil {
			return err
		}

		format := export.Format(strings.ToLower(args[1]))
		exporter, err := export.GetExporter(format)
		if err != nil {
			return err
		}

		outputPath, _ := cmd.Flags().GetString("output")
		if outputPath == "" {
			outputPath = export.GenerateFilename(session, exporter.FileExtension())
		}

		file, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		defer file.Close()

		if err := exporter.Export(session, file); err != nil {
			return fmt.Errorf("failed to export: %w", err)
		}

		fmt.Printf("Exported to: %s\n", outputPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file path")
}

// ============================================================================
// REASONERS COMMAND
// ============================================================================

var reasonersCmd = &cobra.Command{
	Use:   "reasoners",
	Short: "List available reasoning adapters",
	Run: func(cmd *cobra.Command, args []string) {
		registry := getRegistry()

		fmt.Println("\nAvailable Reasoners:")
		fmt.Println(strings.Repeat("-", 40))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS")

		for _, re := range registry.List() {
			status := "not installed"
			if re.Available() {
				status = "available"
			}
			fmt.Fprintf(w, "%s\t%s\n", re.Name(), status)
		}
		w.Flush()
	},
}

// ============================================================================
// CONFIG COMMAND
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Config file: %s\n\n", config.DefaultConfigPath())

		if appConfig != nil {
			fmt.Println("Current settings:")
			fmt.Printf("  Default reasoner: %s\n", appConfig.Defaults.Reasoner)
			fmt.Printf("  Context strategy: %s\n", appConfig.Defaults.Strategy)
			fmt.Printf("  Max rounds: %d\n", appConfig.Defaults.MaxRounds)
			fmt.Printf("  Consensus threshold: %.2f\n", appConfig.Defaults.ConsensusThreshold)
			fmt.Printf("  Worker timeout: %s\n", appConfig.Defaults.WorkerTimeout)
			fmt.Println("\nReasoners:")
			for name, r := range appConfig.Reasoners {
				status := "disabled"
				if r.Enabled {
					status = "enabled"
				}
				fmt.Printf("  %s: %s (timeout: %s)\n", name, status, r.Timeout)
			}
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create example config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}

		example := config.GenerateExample()
		if err := os.MkdirAll(strings.TrimSuffix(path, "/config.yaml"), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(example), 0644); err != nil {
			return err
		}

		fmt.Printf("Created config at: %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// ============================================================================
// SERVE COMMAND
// ============================================================================

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("port") && appConfig != nil && appConfig.Server.Port != 0 {
			servePort = appConfig.Server.Port
		}

		st, err := getStorage()
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer st.Close()

		registry := getRegistry()

		fmt.Printf("\nStarting arbiter API server on http://localhost:%d\n\n", servePort)
		fmt.Println("Available endpoints:")
		fmt.Printf("  GET  http://localhost:%d/api/sessions      - List sessions\n", servePort)
		fmt.Printf("  GET  http://localhost:%d/api/sessions/:id  - Session detail\n", servePort)
		fmt.Printf("  GET  http://localhost:%d/api/reasoners     - Adapter status\n", servePort)
		fmt.Println("\nPress Ctrl+C to stop the server")

		return startWebServer(st, registry, servePort)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8183, "Server port")
}

func startWebServer(st storage.Storage, registry *reasoner.Registry, port int) error {
	h := handlers.New(st, registry)

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:    addr,
		Handler: h.Routes(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")
		server.Close()
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func findSessionByPrefix(st storage.Storage, prefix string) (*core.Session, error) {
	if session, err := st.GetSession(prefix); err != nil {
		return nil, err
	} else if session != nil {
		return session, nil
	}

	summaries, _ := st.ListSessions(100, 0)
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, prefix) {
			return st.GetSession(s.ID)
		}
	}
	return nil, fmt.Errorf("session not found: %s", prefix)
}
