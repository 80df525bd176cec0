package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
	"github.com/geniehealth/dyk/internal/dedup"
	"github.com/geniehealth/dyk/internal/evidence"
	"github.com/geniehealth/dyk/internal/llm"
	"github.com/geniehealth/dyk/internal/pipeline"
	"github.com/geniehealth/dyk/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dyk",
	Short:   "Market-localized health insights",
	Long:    `dyk generates, deduplicates, rewrites, and evaluates "Did You Know" health insights for configured markets.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		_ = godotenv.Load()

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tuneCmd)
	rootCmd.AddCommand(cohortsCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("dyk", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/dyk/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set API keys, models, and market catalogs.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		counts, err := db.GetCounts()
		if err != nil {
			return fmt.Errorf("getting counts: %w", err)
		}

		configured := "not configured"
		if llm.CreateProvider(cfg).IsConfigured() {
			configured = "configured"
		}

		fmt.Printf("Market: %s\n", cfg.Market)
		fmt.Printf("Provider: %s (%s)\n", cfg.API.Provider, configured)
		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Stored:")
		fmt.Printf("  Runs: %d\n", counts.Runs)
		fmt.Printf("  Insights: %d (%d unique)\n", counts.Insights, counts.UniqueInsights)
		fmt.Printf("  Variations: %d (%d passed)\n", counts.Variations, counts.PassedVariations)
		fmt.Printf("  Evidence articles: %d\n", counts.EvidenceArticles)
		return nil
	},
}

// --- run command ---

var (
	runMarket    string
	dryRun       bool
	withEvidence bool
	outputDir    string
	maxCohorts   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: generate -> dedup -> rewrite -> evaluate -> export",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runMarket != "" {
			cfg.Market = runMarket
		}
		if outputDir != "" {
			cfg.Output.OutputDir = outputDir
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if dryRun {
			pipe := pipeline.New(db, cfg, nil, nil)
			pipe.MaxCohorts = maxCohorts
			pipe.Evidence = withEvidence
			result, err := pipe.DryRun()
			if err != nil {
				return err
			}
			printSteps(result)
			return nil
		}

		ctx := context.Background()
		provider := llm.CreateProvider(cfg)
		if !provider.IsConfigured() {
			return fmt.Errorf("provider %s is not configured (set %s)", cfg.API.Provider, cfg.API.APIKeyEnv)
		}
		embedder, err := llm.CreateEmbedder(ctx, cfg)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}

		pipe := pipeline.New(db, cfg, provider, embedder)
		pipe.MaxCohorts = maxCohorts
		pipe.Evidence = withEvidence

		result, runErr := pipe.Run(ctx)
		if result != nil {
			printSteps(result)
		}
		if runErr != nil {
			return runErr
		}

		if result.JSONPath != "" {
			fmt.Println("\nArtifacts:")
			fmt.Printf("  %s\n", result.JSONPath)
			fmt.Printf("  %s\n", result.CSVPath)
		}
		fmt.Println("\nPipeline complete! Run 'dyk serve' to browse the results.")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runMarket, "market", "m", "", "Market to run for (default from config)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().BoolVar(&withEvidence, "evidence", false, "Ground generation prompts in PubMed evidence")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for JSON/CSV artifacts")
	runCmd.Flags().IntVar(&maxCohorts, "max-cohorts", 0, "Limit the number of cohorts (0 = all)")
}

func printSteps(result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

// --- tune command ---

var (
	tuneSamples int
	tuneRunID   int64
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Sample insight pairs per similarity band to pick a dedup threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runID := tuneRunID
		if runID == 0 {
			runs, err := db.GetRecentRuns(1)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return fmt.Errorf("no runs found, run 'dyk run' first")
			}
			runID = runs[0].ID
		}

		insights, err := db.GetInsightsForRun(runID)
		if err != nil {
			return err
		}
		if len(insights) < 2 {
			return fmt.Errorf("run %d has %d insights, need at least 2", runID, len(insights))
		}

		ctx := context.Background()
		embedder, err := llm.CreateEmbedder(ctx, cfg)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}

		engine := dedup.New(embedder, cfg.Dedup)
		res, err := engine.Deduplicate(ctx, insights)
		if err != nil {
			return fmt.Errorf("computing similarities: %w", err)
		}

		n := len(insights)
		fmt.Printf("Sampling pairs from run %d: %d insights, %d unique pairs.\n", runID, n, n*(n-1)/2)

		sampled := dedup.SamplePairs(res.Matrix, dedup.DefaultBands, tuneSamples, cfg.Dedup.Seed)
		for _, band := range dedup.DefaultBands {
			pairs := sampled[band.Label]
			fmt.Printf("\n=== %s (%.2f-%.2f): %d pair(s) ===\n", band.Label, band.Min, band.Max, len(pairs))
			for _, p := range pairs {
				printPair(insights[p.I], insights[p.J], p.Similarity)
			}
		}

		fmt.Println("\nPick the threshold where duplicates start to appear:")
		fmt.Println("  duplicates at 0.90-0.95 -> use threshold 0.90")
		fmt.Println("  duplicates at 0.85-0.90 -> use threshold 0.85")
		fmt.Println("  duplicates at 0.80-0.85 -> use threshold 0.80")
		fmt.Printf("Current threshold: %.2f\n", engine.Threshold())
		return nil
	},
}

func printPair(a, b database.Insight, similarity float64) {
	fmt.Printf("\n  Similarity %.4f\n", similarity)
	for i, ins := range []database.Insight{a, b} {
		fmt.Printf("  %d: %s\n", i+1, ins.Hook)
		fmt.Printf("     %s\n", ins.Action)
		fmt.Printf("     [%s | %s | %s]\n", ins.Cohort.ID, ins.InsightTemplate.Type, ins.GenerationModel)
	}
}

func init() {
	tuneCmd.Flags().IntVar(&tuneSamples, "samples", 5, "Pairs to sample per similarity band")
	tuneCmd.Flags().Int64Var(&tuneRunID, "run", 0, "Run to sample insights from (default latest)")
}

// --- cohorts command ---

var cohortsMarket string

var cohortsCmd = &cobra.Command{
	Use:   "cohorts",
	Short: "List the cohorts of a market catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		market := cfg.Market
		if cohortsMarket != "" {
			market = cohortsMarket
		}

		cohorts, err := cfg.Cohorts(market)
		if err != nil {
			return err
		}

		fmt.Printf("Cohorts for %s:\n\n", market)
		for _, c := range cohorts {
			fmt.Printf("  [%s] P%d %s\n", c.ID, c.PriorityLevel, c.Name)
			if c.Description != "" {
				desc := c.Description
				if len(desc) > 60 {
					desc = desc[:60] + "..."
				}
				fmt.Printf("        %s\n", desc)
			}
		}
		return nil
	},
}

func init() {
	cohortsCmd.Flags().StringVarP(&cohortsMarket, "market", "m", "", "Market to list (default from config)")
}

// --- evidence command ---

var (
	evidenceCohort int
	evidenceQuery  string
	evidenceFeeds  bool
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Retrieve supporting evidence outside a pipeline run",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		retriever := evidence.NewRetriever(db, cfg.Evidence)
		ctx := context.Background()

		switch {
		case evidenceFeeds:
			stored := retriever.WatchFeeds()
			fmt.Printf("Stored %d new feed articles.\n", stored)
			return nil

		case evidenceQuery != "":
			articles, err := retriever.RetrieveQuery(ctx, evidenceQuery)
			if err != nil {
				return err
			}
			printArticles(articles)
			return nil

		case evidenceCohort > 0:
			cohorts, err := cfg.Cohorts(cfg.Market)
			if err != nil {
				return err
			}
			if evidenceCohort > len(cohorts) {
				return fmt.Errorf("cohort %d out of range, market %s has %d", evidenceCohort, cfg.Market, len(cohorts))
			}
			cohort := cohorts[evidenceCohort-1]
			fmt.Printf("Retrieving evidence for %s...\n", cohort.Name)
			articles, err := retriever.RetrieveForCohort(ctx, cohort, cfg.HealthDomains)
			if err != nil {
				return err
			}
			printArticles(articles)
			return nil

		default:
			return fmt.Errorf("specify --cohort N, --query \"...\", or --feeds")
		}
	},
}

func printArticles(articles []database.EvidenceArticle) {
	if len(articles) == 0 {
		fmt.Println("No articles found.")
		return
	}
	for i, a := range articles {
		fmt.Printf("\n%d. %s\n", i+1, a.Title)
		if a.Journal != nil && a.Year != nil {
			fmt.Printf("   %s (%s)\n", *a.Journal, *a.Year)
		}
		if a.PMID != nil {
			fmt.Printf("   PMID %s\n", *a.PMID)
		}
		if a.URL != "" {
			fmt.Printf("   %s\n", a.URL)
		}
	}
}

func init() {
	evidenceCmd.Flags().IntVar(&evidenceCohort, "cohort", 0, "Retrieve for the Nth cohort of the market")
	evidenceCmd.Flags().StringVar(&evidenceQuery, "query", "", "Retrieve for a free-text PubMed query")
	evidenceCmd.Flags().BoolVar(&evidenceFeeds, "feeds", false, "Pull configured authority feeds instead of PubMed")
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show funnels for recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.GetRecentRuns(10)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet. Start one with 'dyk run'.")
			return nil
		}

		fmt.Println("Recent runs:")
		for _, r := range runs {
			status := "running"
			if r.FinishedAt != nil {
				status = "finished " + *r.FinishedAt
			}
			fmt.Printf("\n#%d %s (started %s, %s)\n", r.ID, r.Market, r.StartedAt, status)
			fmt.Printf("  %d insights -> %d unique -> %d variations (%d passed)\n",
				r.TotalInsights, r.UniqueInsights, r.TotalVariations, r.PassedVariations)
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(filepath.Join(dataDir, "dyk.db"))
}
