package main

import "faceforward/interfaces/cli"

func main() {
	cli.Execute()
}
