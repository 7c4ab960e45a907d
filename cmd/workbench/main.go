package main

import (
	_ "time/tzdata"

	"github.com/researchspace/workbench/cli"
)

func main() {
	cli.Main()
}
