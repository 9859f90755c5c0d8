package main

import "orderflow/internal/cli"

func main() {
	cli.Execute()
}
