package main // Entry point for the local seat-server simulator

import (
	"log"  // Logging library
	"os"   // Environment access
	"time" // Hold TTL parsing

	"github.com/joho/godotenv"    // Optional .env loading
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/flight-seat-sync/internal/simulator" // In-memory seat server
)

func main() {
	_ = godotenv.Load() // Load .env when present; real env wins

	port := os.Getenv("SIM_PORT") // HTTP port for the simulator
	if port == "" {
		port = "8080"
	}
	holdTTL := 90 * time.Second // Server-side hold lifetime
	if v := os.Getenv("SIM_HOLD_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			holdTTL = d
		}
	}

	sim := simulator.New(holdTTL) // Build the simulator
	defer sim.Close()
	sim.AddFlight("FL-1001", 30, "ABCDEF") // Seed a demo flight
	sim.AddFlight("FL-1002", 24, "ABCD")   // And a smaller one

	e := echo.New()  // Create Echo instance
	sim.Register(e)  // Mount seat routes and the websocket endpoint
	addr := ":" + port
	log.Printf("seatsimd listening on %s (hold ttl=%s)", addr, holdTTL)

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err) // Log and exit if server fails
	}
}
