package main

import "github.com/alienJion/flextrike-drill-manager-go/cmd"

func main() {
	cmd.Execute()
}
