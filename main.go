package main

import (
	"os"

	"github.com/pkot5/kluetune/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
