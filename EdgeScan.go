package main

import "EdgeScan/cmd"

func main() {
	cmd.Execute()
}
