package main

import "github.com/vibast-solutions/ms-go-collector/cmd"

func main() {
	cmd.Execute()
}
