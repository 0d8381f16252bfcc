package main

import (
	"fmt"
	"os"

	"github.com/Emerchan23/sisvendas1-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
