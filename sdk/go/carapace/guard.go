package carapace

import "context"

// Call describes a tool invocation to guard: the tool name, its
// serialized parameters, and the events that fed it.
type Call struct {
	Tool    string
	Params  string
	Sources []EventID
}

// Output is what a guarded tool returns: the tool's result plus the
// event id of the recorded result, usable as an input source for later
// calls.
type Output struct {
	Result  string
	EventID EventID
}

// ToolFunc is the function signature Guard wraps. It receives the call
// it was invoked with and returns the tool's output and exit code.
type ToolFunc func(ctx context.Context, call Call) (string, int, error)

// GuardedFunc is a ToolFunc with provenance gating applied.
type GuardedFunc func(ctx context.Context, call Call) (Output, error)

// Guard wraps fn so that every invocation is proposed first and its
// output recorded after. A proposal that is not allowed returns a
// *BlockedError without calling fn; the output of an allowed call is
// recorded even when fn fails, so partial effects stay in the lineage.
func Guard(api API, fn ToolFunc) GuardedFunc {
	return func(ctx context.Context, call Call) (Output, error) {
		d, err := api.Propose(ctx, call.Tool, call.Params, call.Sources...)
		if err != nil {
			return Output{}, err
		}
		if !d.Allowed {
			return Output{}, &BlockedError{
				Tool:    call.Tool,
				Outcome: d.Outcome,
				EventID: d.EventID,
				RuleID:  d.RuleID,
				Reason:  d.Reason,
			}
		}

		result, exitCode, runErr := fn(ctx, call)

		id, recErr := api.RecordResult(ctx, d.EventID, result, exitCode)
		if runErr != nil {
			return Output{Result: result, EventID: id}, runErr
		}
		if recErr != nil {
			return Output{Result: result}, recErr
		}
		return Output{Result: result, EventID: id}, nil
	}
}
