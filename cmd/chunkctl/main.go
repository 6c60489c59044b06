package main

import "github.com/maneesh/scatterstore/internal/cli"

func main() {
	cli.Execute()
}
