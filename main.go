package main

import "github.com/adamgarcia4/goLearning/meshguard/cmd"

func main() {
	cmd.Execute()
}
