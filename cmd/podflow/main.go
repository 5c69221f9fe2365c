package main

import "github.com/podly-labs/podflow/cli"

func main() {
	cli.Execute()
}
