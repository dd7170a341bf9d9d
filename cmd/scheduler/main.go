package main

import (
	"log"

	"github.com/ft54482/owl-workshop/cmd/scheduler/cmd"
)

func main() {
	root := cmd.RootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
