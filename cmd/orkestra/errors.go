package main

import "github.com/orkestra-dev/orkestra/pkg/orcherr"

func exitCodeFor(err error) int {
	return orcherr.ExitCode(err)
}
