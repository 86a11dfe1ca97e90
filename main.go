package main

import "github.com/samuelfneumann/gamelearn/cmd"

func main() {
	cmd.Execute()
}
