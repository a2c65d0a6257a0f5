package main

import (
	"github.com/stratumfs/stratum/cmd/stratum/cmd"
)

func main() {
	cmd.Execute()
}
