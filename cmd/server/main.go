package main

import "github.com/bbr/multisavex/internal/cli"

func main() {
	cli.Execute()
}
