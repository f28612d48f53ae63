package main

import "github.com/promptforge-ai/demon-engine/cmd/demonengine/cmd"

func main() {
	cmd.Execute()
}
