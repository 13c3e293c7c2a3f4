package main

import (
	"github.com/becomeliminal/recall/cli"
)

func main() {
	cli.Execute()
}
