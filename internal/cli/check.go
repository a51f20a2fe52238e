package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carapace-ai/carapace/internal/engine"
	"github.com/carapace-ai/carapace/internal/model"
	"github.com/carapace-ai/carapace/internal/policy"
	"github.com/carapace-ai/carapace/internal/scenario"
)

var (
	checkConfig   string
	checkScenario string
	checkFormat   string
	checkTool     string
	checkRisk     string
	checkTrust    string
	checkContent  string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkConfig, "config", "", "Path to config YAML (optional)")
	checkCmd.Flags().StringVar(&checkScenario, "scenario", "", "Glob pattern for scenario YAML files")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format for scenario runs (text|json)")
	checkCmd.Flags().StringVar(&checkTool, "tool", "", "Tool name to propose (one-shot mode)")
	checkCmd.Flags().StringVar(&checkRisk, "risk", "", "Risk tier to register for the tool (optional)")
	checkCmd.Flags().StringVar(&checkTrust, "trust", "EXTERNAL", "Trust label of the simulated input")
	checkCmd.Flags().StringVar(&checkContent, "content", "", "Content of the simulated input")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run tool proposals against the rules",
	Long: "Two modes, both against a throwaway in-memory engine.\n\n" +
		"With --scenario, loads scenario YAML files matching a glob pattern,\n" +
		"evaluates each test case, and reports pass/fail. Exit code 0 if all\n" +
		"cases pass, 1 if any fail. Use in CI to gate rule changes.\n\n" +
		"With --tool, ingests a single message with the given trust label,\n" +
		"proposes the tool call fed by it, and prints the decision as JSON.\n" +
		"Exit code 0 for allow, 1 for deny, 2 for escalate.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkScenario != "" {
		return runScenarios()
	}
	if checkTool == "" {
		return fmt.Errorf("either --scenario or --tool is required")
	}
	return runOneShot()
}

func runScenarios() error {
	matches, err := filepath.Glob(checkScenario)
	if err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no scenario files match pattern: %s", checkScenario)
	}

	ctx := context.Background()
	var results []*scenario.RunResult
	for _, path := range matches {
		r, err := scenario.LoadAndRun(ctx, path, checkConfig)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, r)
	}

	switch checkFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(scenario.FormatText(results))
	}

	for _, r := range results {
		if r.Failed > 0 {
			os.Exit(1)
		}
	}
	return nil
}

func runOneShot() error {
	cfg, hash, err := policy.LoadConfigWithHash(checkConfig)
	if err != nil {
		return err
	}
	// Always in-memory: a dry run must not touch the real store.
	cfg.Store = policy.StoreConfig{Backend: "memory"}

	eng, err := engine.New(cfg, hash, engine.Options{Logger: zap.NewNop()})
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	if checkRisk != "" {
		if err := eng.RegisterTool(ctx, checkTool, model.RiskTier(checkRisk), ""); err != nil {
			return err
		}
	}

	var sources []model.EventID
	if checkTrust != "" || checkContent != "" {
		id, err := eng.Ingest(ctx, engine.IngestRequest{
			Content: checkContent,
			Trust:   model.TrustLevel(checkTrust),
		})
		if err != nil {
			return err
		}
		sources = append(sources, id)
	}

	d, err := eng.Propose(ctx, engine.ProposeRequest{Tool: checkTool, Sources: sources})
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(out))

	switch d.Outcome {
	case model.OutcomeAllow:
		return nil
	case model.OutcomeEscalate:
		os.Exit(2)
	default:
		os.Exit(1)
	}
	return nil
}
