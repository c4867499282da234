package main

import "github.com/bryanchriswhite/Nudger/cmd/nudger/commands"

func main() {
	commands.Execute()
}
