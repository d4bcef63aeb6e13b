// Command scoreboard is the leaderboard CLI.
package main

import (
	"context"
	"os"

	"github.com/roach88/scoreboard/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
