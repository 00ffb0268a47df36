package main

import (
	"github.com/joho/godotenv"

	"github.com/example/laundry-bot/cmd"
)

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()
	cmd.Execute()
}
