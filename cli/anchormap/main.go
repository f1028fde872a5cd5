// Package main is the anchormap command line tool.
package main

import (
	"log"
	"os"

	"go.viam.com/anchormap/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
