//go:build windows
// +build windows

package cmd

import (
	"os"
	"os/exec"
)

func addSignals(sigs []os.Signal) []os.Signal {
	return sigs
}

func detachProcess(c *exec.Cmd, stdoutPath, stderrPath string) error {
	argv1 := c.Args[0]
	c.Path = "cmd"
	c.Args = append([]string{
		"cmd",
		"/c",
		argv1,
	}, c.Args[1:]...)
	c.Args = append(c.Args,
		">",
		stdoutPath,
		"2>",
		stderrPath,
	)
	return nil
}
