package main

import "github.com/LENAX/durable-engine/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
