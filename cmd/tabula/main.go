package main

import (
	"os"

	"github.com/JonMunkholm/tabula/cmd/tabula/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
