// Package scenario runs policy assertions from YAML files: each case
// describes a tool call and the trust carried by its inputs, and the
// expected decision. Used by `carapace check` to gate rule changes in
// CI.
package scenario

// Input is one simulated event feeding the proposed call.
type Input struct {
	Trust   string `yaml:"trust"`
	Content string `yaml:"content,omitempty"`
}

// Tool optionally registers the tool under test before proposing.
type Tool struct {
	Name     string `yaml:"name"`
	Risk     string `yaml:"risk,omitempty"`
	Category string `yaml:"category,omitempty"`
}

// Case is one test case within a scenario.
type Case struct {
	Name     string  `yaml:"name,omitempty"`
	Tool     string  `yaml:"tool"`
	Params   string  `yaml:"params,omitempty"`
	Inputs   []Input `yaml:"inputs,omitempty"`
	Expect   string  `yaml:"expect"`
	ExpectID string  `yaml:"expect_rule,omitempty"`
}

// Scenario is a named collection of policy test cases sharing a tool
// registry.
type Scenario struct {
	Name  string `yaml:"name"`
	Tools []Tool `yaml:"tools,omitempty"`
	Cases []Case `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Name     string `json:"name,omitempty"`
	Passed   bool   `json:"passed"`
	Tool     string `json:"tool"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	RuleID   string `json:"rule_id"`
	Reason   string `json:"reason"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
