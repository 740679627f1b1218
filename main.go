package main

import "github.com/kozaktomas/facepass/cmd"

func main() {
	cmd.Execute()
}
