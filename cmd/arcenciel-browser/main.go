package main

import "go-arcenciel-browser/cmd/arcenciel-browser/cmd"

func main() {
	cmd.Execute()
}
