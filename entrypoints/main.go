package main

import "github.com/Laisky/tracker-search/cmd"

func main() {
	cmd.Execute()
}
