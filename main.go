package main

import "github.com/distantorigin/craftlauncher/internal/cli"

func main() {
	cli.Execute()
}
