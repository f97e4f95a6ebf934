package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-colorable"

	"github.com/CMSgov/faers-app/faers/faerscli"
)

func main() {
	app := faerscli.GetApp()
	app.Writer = colorable.NewColorableStdout()
	app.ErrWriter = colorable.NewColorableStderr()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(app.ErrWriter, err)
		os.Exit(1)
	}
}
