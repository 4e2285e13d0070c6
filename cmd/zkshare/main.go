// Command zkshare shares personal data end-to-end encrypted, either through a
// one-time link or through a short code given to an organization.
package main

import (
	"os"

	"github.com/commandquery/zkshare"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := initConfig(); err != nil {
		zkshare.Exit(1, err)
	}

	app := &cli.App{
		Name:  "zkshare",
		Usage: "share personal data without the server ever seeing it",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			walletCommand(),
			linkCommand(),
			codeCommand(),
			viewCommand(),
			receiveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		zkshare.Exit(1, err)
	}
}
