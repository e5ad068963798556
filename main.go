package main

import "github.com/rhac/rhacbot/cmd"

func main() {
	cmd.Execute()
}
