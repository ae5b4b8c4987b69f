package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/timvw/prompt-tracker/cmd"
)

func main() {
	cmd.Execute()
}
