package main

import "github.com/example/rsvpd/internal/interfaces/cli"

func main() {
	cli.Execute()
}
