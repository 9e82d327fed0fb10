// Command agentdoor runs the Agent Door gateway.
package main

import "github.com/agent-door/agentdoor/cmd/agentdoor/cmd"

func main() {
	cmd.Execute()
}
