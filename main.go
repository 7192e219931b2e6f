package main

import "github.com/markb/mentionbot/cmd"

func main() {
	cmd.Execute()
}
