package scenario

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/carapace-ai/carapace/internal/engine"
	"github.com/carapace-ai/carapace/internal/model"
	"github.com/carapace-ai/carapace/internal/policy"
)

// Run evaluates all cases in a scenario against the given config. Every
// case gets a fresh in-memory engine: cases are independent and never
// touch a persistent store.
func Run(ctx context.Context, s *Scenario, cfg *policy.Config, hash string) (*RunResult, error) {
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		cr, err := runCase(ctx, s, cfg, hash, i, c)
		if err != nil {
			return nil, fmt.Errorf("scenario %q case %d: %w", s.Name, i+1, err)
		}
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result, nil
}

func runCase(ctx context.Context, s *Scenario, cfg *policy.Config, hash string, i int, c Case) (CaseResult, error) {
	caseCfg := *cfg
	caseCfg.Store = policy.StoreConfig{Backend: "memory"}

	eng, err := engine.New(&caseCfg, hash, engine.Options{})
	if err != nil {
		return CaseResult{}, err
	}
	defer eng.Close()

	for _, tool := range s.Tools {
		if err := eng.RegisterTool(ctx, tool.Name, model.RiskTier(tool.Risk), tool.Category); err != nil {
			return CaseResult{}, fmt.Errorf("register tool %q: %w", tool.Name, err)
		}
	}

	var sources []model.EventID
	for _, in := range c.Inputs {
		id, err := eng.Ingest(ctx, engine.IngestRequest{
			Content: in.Content,
			Trust:   model.TrustLevel(in.Trust),
		})
		if err != nil {
			return CaseResult{}, fmt.Errorf("ingest input: %w", err)
		}
		sources = append(sources, id)
	}

	d, err := eng.Propose(ctx, engine.ProposeRequest{
		Tool:    c.Tool,
		Content: c.Params,
		Sources: sources,
	})
	if err != nil {
		return CaseResult{}, err
	}

	expected := strings.ToLower(c.Expect)
	actual := string(d.Outcome)

	cr := CaseResult{
		Index:    i + 1,
		Name:     c.Name,
		Tool:     c.Tool,
		Expected: expected,
		Actual:   actual,
		RuleID:   d.RuleID,
		Reason:   d.Reason,
	}
	cr.Passed = actual == expected && (c.ExpectID == "" || c.ExpectID == d.RuleID)
	return cr, nil
}

// LoadAndRun loads a scenario YAML file and the config, then runs.
func LoadAndRun(ctx context.Context, path, configPath string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	cfg, hash, err := policy.LoadConfigWithHash(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	result, err := Run(ctx, &s, cfg, hash)
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}
