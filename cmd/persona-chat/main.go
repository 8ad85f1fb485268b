package main

import (
	"fmt"
	"os"

	"github.com/PabloGalante/persona-chat/internal/observability"
)

func main() {
	err := Execute()
	observability.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
