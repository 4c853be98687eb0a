package main

import "github.com/blcknd/huddle/internal/cli"

func main() {
	cli.Execute()
}
