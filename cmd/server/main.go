package main

import "github.com/makemelearn/api/cmd/server/cmd"

func main() {
	cmd.Execute()
}
