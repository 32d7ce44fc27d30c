package main

import "github.com/rmexp/rmexp/cmd"

func main() {
	cmd.Execute()
}
