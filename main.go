package main

import "github.com/kamusis/symsvg/cmd"

func main() {
	cmd.Execute()
}
