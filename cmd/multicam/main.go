package main

import "multicam/cmd/multicam/commands"

func main() {
	commands.Execute()
}
