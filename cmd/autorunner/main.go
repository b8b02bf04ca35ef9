package main

import "github.com/lucky401/codex-autorunner-sub004/internal/cmd"

func main() {
	cmd.Execute()
}
