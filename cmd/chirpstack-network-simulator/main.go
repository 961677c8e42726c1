package main

import "github.com/brocaar/chirpstack-network-simulator/cmd/chirpstack-network-simulator/cmd"

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
