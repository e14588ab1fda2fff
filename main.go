package main

import "github.com/ipybridge/ipybridge/cmd/root"

func main() {
	root.Execute()
}
