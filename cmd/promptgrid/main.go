package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess    = 0 // Every cell passed
	ExitTestFailed = 1 // One or more cells failed or errored
	ExitError      = 2 // Configuration or runtime error
)

// TestFailureError indicates the run itself completed, but one or more cells
// failed their assertions or errored.
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var testFailureErr *TestFailureError
		if errors.As(err, &testFailureErr) {
			os.Exit(ExitTestFailed)
		}

		os.Exit(ExitError)
	}
}
