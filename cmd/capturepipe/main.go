package main

import "github.com/bryanchriswhite/capturepipe/cmd/capturepipe/commands"

func main() {
	commands.Execute()
}
