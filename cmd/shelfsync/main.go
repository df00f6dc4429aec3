package main

import "github.com/mmcdole/shelfsync/internal/cli"

func main() {
	cli.Execute()
}
