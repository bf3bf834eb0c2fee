package main

import (
	"log"

	"appregistry/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ appregistry failed to start: %v", err)
	}
}
