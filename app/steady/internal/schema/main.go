package main

import (
	"fmt"
	"log"
	"os"

	"github.com/umputun/steadystate/app/steady"
)

func main() {
	outputPath := "snapshot.schema.json"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	if err := steady.WriteSchema(outputPath); err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Printf("Schema generated successfully at %s\n", outputPath)
}
