package main

import (
	"os"

	"github.com/notifyer/notifyer/internal/cli"
)

func main() {
	cli.InitCLI()
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
