// Command aipolicy runs the AI-gated policy engine.
package main

import "github.com/Sentinel-Gate/aipolicy/cmd/aipolicy/cmd"

func main() {
	cmd.Execute()
}
