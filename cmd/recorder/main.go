package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/offlinefirst/desktop-recorder/internal/cmd"
)

func main() {
	root := cmd.NewRootCommand()
	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "recorder: %v\n", err)
		var usage *cmd.UsageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
