package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Run(); err != nil {
		fmt.Printf("worker: %v\n", err)
		os.Exit(1)
	}
}
