package main

import "github.com/blacktop/inferno/cmd/inferno/cmd"

func main() {
	cmd.Execute()
}
