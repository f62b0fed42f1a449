//go:build !unix

package ingest

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}

func killGroup(cmd *exec.Cmd) {}
