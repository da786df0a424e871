package main

import (
	"fmt"
	"os"

	"github.com/sahilchouksey/upsc-prep-api/app"
)

func main() {
	// setup and run app
	if err := app.SetupAndRunServer(); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		os.Exit(1)
	}
}
