package main

import (
	"github.com/joho/godotenv"

	"dexalign/internal/cli"
)

func main() {
	// .env is optional; environment variables win over file values.
	_ = godotenv.Load()

	cli.Execute()
}
