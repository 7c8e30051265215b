package main

import (
	"fmt"
	"os"

	"github.com/aifa/directorio/internal/app"
	"github.com/aifa/directorio/internal/style"
)

func main() {
	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
		os.Exit(1)
	}
}
