// carapace — provenance-tracked decision engine for agent tool calls.
package main

import "github.com/carapace-ai/carapace/internal/cli"

func main() {
	cli.Execute()
}
