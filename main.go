package main

import "github.com/endorses/paper/cmd"

func main() {
	cmd.Execute()
}
