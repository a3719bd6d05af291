package main

import "github.com/productdevbook/lsprobe/cmd"

func main() {
	cmd.Execute()
}
