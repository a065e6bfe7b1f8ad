package main

import "github.com/audiolibrelab/chordwatch/cmd"

func main() {
	cmd.Execute()
}
