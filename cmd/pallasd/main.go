// Command pallasd runs a pallas validator node.
package main

import (
	"fmt"
	"os"

	"github.com/pallaschain/pallas/cmd/pallasd/cli"
)

func main() {
	if err := cli.NewCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
