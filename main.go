package main

import "github.com/charmbracelet/toolguard/internal/cmd"

func main() {
	cmd.Execute()
}
