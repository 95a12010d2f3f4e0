package main

import "github.com/agentguard/agentguard/cmd/agentguard/cmd"

func main() {
	cmd.Execute()
}
