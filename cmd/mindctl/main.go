package main

import (
	"fmt"
	"os"
	"path/filepath"
)

var (
	version   = "dev"
	gitCommit string
)

const appName = "mindctl"

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mind", "config.json")
}
