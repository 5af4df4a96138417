package main

import (
	"lavaqueue/cmd"
)

func main() {
	cmd.Execute()
}
