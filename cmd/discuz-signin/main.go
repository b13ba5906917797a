package main

import (
	"context"
	"discuz-signin/cmd/discuz-signin/commands"
	"os"
)

func main() {
	os.Exit(commands.Run(context.Background(), os.Args[1:], commands.ProcessEnvironment()))
}
