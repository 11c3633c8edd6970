package main

import "github.com/mediback/mediback/cmd"

func main() {
	cmd.Execute()
}
