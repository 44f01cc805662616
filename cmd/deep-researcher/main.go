package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-researcher/pkg/config"
	"github.com/mikeboe/deep-researcher/pkg/report"
	"github.com/mikeboe/deep-researcher/pkg/research"
)

var (
	query      string
	configPath string
	outPath    string
	raw        bool
	mode       string
	width      int

	cfg *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deep-researcher",
		Short: "A terminal research assistant",
		Long:  `deep-researcher plans a query into sub-questions, searches the web for each, writes a section per question and synthesizes a cited report. Arithmetic is answered directly and anything else goes to plain chat.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = loadConfig()
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
			slog.SetDefault(slog.New(handler))
		},
		Run: func(cmd *cobra.Command, args []string) {
			q := readQuery(cmd, "Enter your research query: ")
			engine := newEngine()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			slog.Info("Starting research", "query", q)
			res, err := engine.Run(ctx, q, printProgress)
			if err != nil {
				slog.Error("Research failed", "error", err)
				os.Exit(1)
			}

			if res.Intent == research.IntentPlan {
				output(report.Markdown(res.Report, res.Sources))
			} else {
				output(res.Report)
			}
			writeTXT(res.Report)
		},
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Decompose a query into research sub-questions",
		Run: func(cmd *cobra.Command, args []string) {
			q := readQuery(cmd, "Enter your research query: ")
			plan := newEngine().Plan(context.Background(), q)
			for i, sq := range plan.SubQuestions {
				fmt.Printf("%d. %s\n", i+1, sq)
			}
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report [question...]",
		Short: "Write a streamed report for the given questions",
		Long:  `Searches and writes one section per question, then streams the synthesized report to stdout. Without arguments the questions are planned from --query first.`,
		Run: func(cmd *cobra.Command, args []string) {
			m := research.Mode(mode)
			if m != research.ModeDeep && m != research.ModeFast {
				slog.Error("Unknown mode", "mode", mode)
				os.Exit(1)
			}

			engine := newEngine()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			questions := args
			if len(questions) == 0 {
				q := readQuery(cmd, "Enter your research query: ")
				questions = engine.Plan(ctx, q).SubQuestions
			}

			printed := 0
			res, err := engine.Report(ctx, questions, m, printProgress, func(snapshot string) {
				fmt.Print(snapshot[printed:])
				printed = len(snapshot)
			})
			fmt.Println()
			if err != nil {
				slog.Error("Report failed", "error", err)
				os.Exit(1)
			}

			if len(res.Sources) > 0 {
				fmt.Printf("\nSources (%d)\n", len(res.Sources))
				for _, link := range res.Sources {
					fmt.Println("- " + link)
				}
			}
			writeTXT(res.Report)
		},
	}

	calcCmd := &cobra.Command{
		Use:   "calc <expression>",
		Short: "Evaluate an arithmetic expression",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(research.Calculate(strings.Join(args, " ")))
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&query, "query", "q", "", "The research query")
	rootCmd.Flags().BoolVar(&raw, "raw", false, "Print markdown without terminal rendering")
	rootCmd.Flags().IntVar(&width, "width", 100, "Word wrap width for rendered output")
	rootCmd.PersistentFlags().StringVarP(&outPath, "out", "o", "", "Also write the report as plain text to this file")
	reportCmd.Flags().StringVarP(&mode, "mode", "m", string(research.ModeDeep), "Report mode: deep or fast")

	rootCmd.AddCommand(planCmd, reportCmd, calcCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	var (
		loaded *config.Config
		err    error
	)
	if configPath == "" {
		loaded, err = config.Load()
	} else {
		loaded, err = config.LoadFile(configPath)
	}
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	return loaded
}

func newEngine() *research.Engine {
	engine, err := research.NewEngine(cfg)
	if err != nil {
		slog.Error("Error initializing engine", "error", err)
		os.Exit(1)
	}
	return engine
}

// readQuery returns --query, or prompts for one on stdin when the flag
// was not given.
func readQuery(cmd *cobra.Command, prompt string) string {
	if cmd.Flags().Changed("query") {
		if strings.TrimSpace(query) == "" {
			slog.Error("--query flag provided but empty")
			os.Exit(1)
		}
		return strings.TrimSpace(query)
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Fprint(os.Stderr, prompt)
	input, _ := reader.ReadString('\n')
	q := strings.TrimSpace(input)
	if q == "" {
		slog.Error("Query cannot be empty")
		os.Exit(1)
	}
	return q
}

func printProgress(e research.Event) {
	fmt.Fprintln(os.Stderr, e.Message)
}

func output(markdown string) {
	if raw {
		fmt.Println(markdown)
		return
	}
	rendered, err := report.Render(markdown, width)
	if err != nil {
		slog.Warn("Rendering failed, printing markdown", "error", err)
		fmt.Println(markdown)
		return
	}
	fmt.Print(rendered)
}

func writeTXT(text string) {
	if outPath == "" || text == "" {
		return
	}
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		slog.Error("Failed to write report", "path", outPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Report written", "path", outPath)
}
