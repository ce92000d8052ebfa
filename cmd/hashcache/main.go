package main

import "github.com/aweris/hashcache/cmd/hashcache/cmd"

func main() {
	cmd.Execute()
}
