package main

import (
	"os"

	"github.com/gridmesh/vpp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
