package main

import "github.com/JakeFAU/realtime-draw-watcher/cmd"

func main() {
	cmd.Execute()
}
