package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "pushauth",
		Usage: "push notification transaction authentication",
		Commands: []*cli.Command{
			serveCommand(),
			tokenCommand(),
			keygenCommand(),
			signTransactionCommand(),
			signRegistrationCommand(),
			signResultCommand(),
			verifyResultCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
