package main

import (
	"fmt"
	"os"

	"github.com/subosito/gotenv"
)

func main() {
	// A missing .env is normal for the CLI
	_ = gotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
