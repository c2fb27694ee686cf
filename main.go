package main

import "github.com/kiesman99/zoomtile/cmd"

func main() {
	cmd.Execute()
}
