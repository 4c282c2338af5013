package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sitevault/sitevault/internal/backup"
)

// Exit codes: 0 success, 1 partial failure or verification mismatch,
// 2 run-terminal error.
const (
	exitPartial  = 1
	exitTerminal = 2
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if errors.Is(err, backup.ErrPartialFailure) || errors.Is(err, errVerifyMismatch) {
		os.Exit(exitPartial)
	}

	os.Exit(exitTerminal)
}
