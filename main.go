package main

import (
	"log"

	"github.com/raftaar/ambudispatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatalf("ambudispatch: %v", err)
	}
}
