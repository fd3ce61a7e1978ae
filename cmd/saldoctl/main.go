package main

import (
	"github.com/alecthomas/kong"
)

var cli struct {
	Commands
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("saldoctl"),
		kong.Description("Administration tool for the saldo ledger."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
