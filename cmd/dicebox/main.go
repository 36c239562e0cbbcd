package main

import (
	"log/slog"

	"github.com/niklaspandersson/dicebox/internal/logging"
)

func main() {
	// Errors only by default; anything louder would tear through the room view.
	logging.Init(slog.LevelError)
	Execute()
}
