package main

import (
	"os"

	"github.com/rustyeddy/livedesk/cmd/livedesk/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
