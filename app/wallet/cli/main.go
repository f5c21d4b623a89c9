package main

import (
	"github.com/kilnlabs/kiln/app/wallet/cli/cmd"
)

func main() {
	cmd.Execute()
}
