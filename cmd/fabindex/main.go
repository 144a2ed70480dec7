// Package main provides the entry point for the fabindex CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/fabindex/cmd/fabindex/cmd"
	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprint(os.Stderr, fierrors.FormatForCLI(err))
		os.Exit(1)
	}
}
