package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/finbrief/finbrief/internal/brief"
	"github.com/finbrief/finbrief/internal/collect"
	"github.com/finbrief/finbrief/internal/config"
	"github.com/finbrief/finbrief/internal/dedup"
	"github.com/finbrief/finbrief/internal/fetch"
	"github.com/finbrief/finbrief/internal/generate"
	"github.com/finbrief/finbrief/internal/llm"
	"github.com/finbrief/finbrief/internal/market"
	"github.com/finbrief/finbrief/internal/server"
	"github.com/finbrief/finbrief/internal/store"
	"github.com/finbrief/finbrief/internal/voice"
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
	Use:     "finbrief",
	Short:   "Market briefs from live quotes and financial news",
	Long:    "finbrief collects market quotes and news, deduplicates coverage, and synthesizes a spoken-style market brief.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

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
	rootCmd.AddCommand(briefCmd)
	rootCmd.AddCommand(newsCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("finbrief", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/finbrief/",
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
		fmt.Println("Edit it to configure feeds, API keys, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archive and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Archive: %s\n\n", db.Path())
		fmt.Printf("Briefs: %d\n", stats.TotalBriefs)
		fmt.Printf("Degraded: %d\n", stats.DegradedBriefs)
		if stats.LastGenerated != "" {
			fmt.Printf("Last generated: %s\n", stats.LastGenerated)
		} else {
			fmt.Println("Last generated: never")
		}

		fmt.Println("\nSources:")
		if cfg.Sources.AlphaVantage.Enabled {
			keyState := "missing"
			if os.Getenv(cfg.Sources.AlphaVantage.APIKeyEnv) != "" {
				keyState = "set"
			}
			fmt.Printf("  Alpha Vantage: enabled (API key %s)\n", keyState)
		} else {
			fmt.Println("  Alpha Vantage: disabled")
		}
		fmt.Printf("  RSS feeds: %d configured\n", len(cfg.Sources.Feeds))
		fmt.Printf("\nModel: %s (%s)\n", cfg.Synthesis.Model, cfg.Synthesis.Provider)
		return nil
	},
}

// --- brief command ---

var (
	briefTickers       string
	briefTopics        string
	briefMaxPerTerm    int
	briefComprehensive bool
	briefNoSave        bool
	briefAudioPath     string
)

var briefCmd = &cobra.Command{
	Use:   "brief",
	Short: "Generate a market brief: collect -> dedup -> aggregate -> assemble -> generate",
	RunE: func(cmd *cobra.Command, args []string) error {
		tickers, topics := resolveTerms(briefTickers, briefTopics)

		orch := buildOrchestrator()
		result, err := orch.GenerateBrief(context.Background(), brief.Request{
			Tickers:            tickers,
			Topics:             topics,
			MaxArticlesPerTerm: briefMaxPerTerm,
			Comprehensive:      briefComprehensive,
		})
		if err != nil {
			if f := brief.AsFailure(err); f != nil {
				return fmt.Errorf("%s: %s", f.Kind, f.Message)
			}
			return err
		}

		printBrief(result)

		if !briefNoSave {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := db.InsertBrief(tickers, topics, result)
			if err != nil {
				return fmt.Errorf("archiving brief: %w", err)
			}
			fmt.Printf("\nSaved as brief %d. Run 'finbrief serve' to browse the archive.\n", id)
		}

		// Voice synthesis is strictly downstream: a TTS failure never
		// invalidates the brief that was already produced and archived.
		if briefAudioPath != "" {
			if err := synthesizeAudio(result.SectionText(), briefAudioPath); err != nil {
				log.Printf("Audio synthesis failed: %v", err)
			}
		}
		return nil
	},
}

func init() {
	briefCmd.Flags().StringVarP(&briefTickers, "tickers", "t", "", "Comma-separated tickers (default from config)")
	briefCmd.Flags().StringVar(&briefTopics, "topics", "", "Comma-separated news topics (default from config)")
	briefCmd.Flags().IntVar(&briefMaxPerTerm, "max-articles", 3, "Max articles fetched per ticker/topic")
	briefCmd.Flags().BoolVar(&briefComprehensive, "comprehensive", false, "Generate a longer, structured brief")
	briefCmd.Flags().BoolVar(&briefNoSave, "no-save", false, "Do not archive the brief")
	briefCmd.Flags().StringVar(&briefAudioPath, "audio", "", "Write spoken audio to this file (requires voice endpoint)")
}

// --- news command ---

var (
	newsTickers string
	newsTopics  string
	newsMax     int
	newsDays    int
	newsContent bool
)

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Search recent financial news without generating a brief",
	RunE: func(cmd *cobra.Command, args []string) error {
		tickers, topics := resolveTerms(newsTickers, newsTopics)

		req := brief.SearchRequest{
			Tickers:      tickers,
			Topics:       topics,
			MaxArticles:  newsMax,
			FetchContent: newsContent,
		}
		if newsDays > 0 {
			req.From = time.Now().UTC().AddDate(0, 0, -newsDays)
		}

		orch := buildOrchestrator()
		articles, err := orch.SearchNews(context.Background(), req)
		if err != nil {
			if f := brief.AsFailure(err); f != nil {
				return fmt.Errorf("%s: %s", f.Kind, f.Message)
			}
			return err
		}

		if len(articles) == 0 {
			fmt.Println("No articles found.")
			return nil
		}

		for _, a := range articles {
			fmt.Printf("%s\n", a.Title)
			if !a.PublishedAt.IsZero() {
				fmt.Printf("  %s", a.PublishedAt.Format("2006-01-02 15:04"))
				if a.Source != "" {
					fmt.Printf(" | %s", a.Source)
				}
				fmt.Println()
			} else if a.Source != "" {
				fmt.Printf("  %s\n", a.Source)
			}
			if terms := a.Terms(); len(terms) > 0 {
				fmt.Printf("  matched: %s\n", strings.Join(terms, ", "))
			}
			if a.Summary != "" {
				fmt.Printf("  %s\n", a.Summary)
			}
			if a.URL != "" {
				fmt.Printf("  %s\n", a.URL)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	newsCmd.Flags().StringVarP(&newsTickers, "tickers", "t", "", "Comma-separated tickers (default from config)")
	newsCmd.Flags().StringVar(&newsTopics, "topics", "", "Comma-separated news topics (default from config)")
	newsCmd.Flags().IntVarP(&newsMax, "max", "n", 10, "Max articles to show")
	newsCmd.Flags().IntVar(&newsDays, "days-back", 0, "Only include articles from the last N days")
	newsCmd.Flags().BoolVar(&newsContent, "fetch-content", false, "Backfill missing summaries from article pages")
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
		return server.Serve(db, buildOrchestrator(), port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- wiring ---

// buildOrchestrator assembles the pipeline from config: upstream sources,
// the deduplicator with its embedder, and the generation provider.
func buildOrchestrator() *brief.Orchestrator {
	var quotes collect.QuoteSource
	var newsSources []collect.NewsSource

	if cfg.Sources.AlphaVantage.Enabled {
		av := collect.NewAlphaVantageClient(cfg.Sources.AlphaVantage.APIKeyEnv)
		quotes = av
		newsSources = append(newsSources, av)
	}
	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]collect.FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = collect.FeedConfig{URL: f.URL, Name: f.Name}
		}
		newsSources = append(newsSources, collect.NewFeedSource(feeds))
	}

	var news collect.NewsSource
	if len(newsSources) > 0 {
		news = collect.NewMultiNewsSource(newsSources...)
	}

	var embedder llm.Embedder
	if cfg.Synthesis.EmbeddingModel != "" {
		embedder = llm.NewOllamaEmbedder(cfg.Synthesis.EmbeddingModel, cfg.Synthesis.OllamaURL)
	}

	provider := llm.CreateProvider(
		cfg.Synthesis.Provider,
		cfg.Synthesis.Model,
		cfg.Synthesis.OllamaURL,
		cfg.Synthesis.OpenAIModel,
		cfg.Synthesis.APIKeyEnv,
	)

	p := cfg.Pipeline
	orch := brief.New(
		quotes,
		news,
		dedup.New(embedder, p.SimilarityThreshold),
		generate.New(provider, cfg.Synthesis.MaxTokens),
		brief.Options{
			UpstreamTimeout:     time.Duration(p.UpstreamTimeoutSecs) * time.Second,
			GenerationTimeout:   time.Duration(p.GenerationTimeoutSecs) * time.Second,
			SimilarityThreshold: p.SimilarityThreshold,
			MaxPromptChars:      p.MaxPromptChars,
			ArticleChars:        p.ArticleChars,
			MaxArticles:         p.MaxArticles,
			GenerationRetries:   p.GenerationRetries,
			Workers:             p.Workers,
		},
	)
	orch.SetContentFetcher(fetch.NewContentFetcher(10 * time.Second))
	return orch
}

// resolveTerms splits flag values, falling back to config defaults when both
// flags are empty.
func resolveTerms(tickersFlag, topicsFlag string) (tickers, topics []string) {
	tickers = splitTerms(tickersFlag)
	topics = splitTerms(topicsFlag)
	if len(tickers) == 0 && len(topics) == 0 {
		tickers = cfg.Defaults.Tickers
		topics = cfg.Defaults.Topics
	}
	return tickers, topics
}

func splitTerms(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printBrief(b *market.Brief) {
	fmt.Printf("# Market Brief - %s\n", b.GeneratedAt.Format("Monday, January 2, 2006 15:04 MST"))

	if len(b.Warnings) > 0 {
		fmt.Println("\nPartial data:")
		for _, w := range b.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	for _, s := range b.Sections {
		fmt.Printf("\n## %s\n\n%s\n", s.Heading, s.Body)
	}

	if len(b.SourceArticles) > 0 {
		fmt.Println("\n## Sources")
		fmt.Println()
		for _, a := range b.SourceArticles {
			if a.URL != "" {
				fmt.Printf("- %s (%s)\n", a.Title, a.URL)
			} else {
				fmt.Printf("- %s\n", a.Title)
			}
		}
	}
}

func synthesizeAudio(text, path string) error {
	if !cfg.Voice.Enabled || cfg.Voice.Endpoint == "" {
		return fmt.Errorf("voice synthesis is not enabled; set voice.endpoint in config")
	}

	synth := voice.NewHTTPSynthesizer(cfg.Voice.Endpoint)
	audio, err := synth.Synthesize(context.Background(), text)
	if err != nil {
		return fmt.Errorf("synthesizing audio: %w", err)
	}

	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return fmt.Errorf("writing audio: %w", err)
	}
	fmt.Printf("Wrote audio: %s\n", path)
	return nil
}

func openDB() (*store.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.Open(filepath.Join(dataDir, "finbrief.db"))
}
