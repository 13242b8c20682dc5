package main

import "farm-exporter/internal/cli"

func main() {
	cli.Execute()
}
