package main

import "diariodigest/internal/cli"

func main() {
	cli.Execute()
}
