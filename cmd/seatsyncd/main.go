package main // Entry point for the interactive sync-engine client

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/iliyamo/flight-seat-sync/internal/config"
	"github.com/iliyamo/flight-seat-sync/internal/engine"
	"github.com/iliyamo/flight-seat-sync/internal/model"
	"github.com/iliyamo/flight-seat-sync/internal/storage"
)

// main wires the engine against a live seat server and drives it from
// stdin.  Commands: select <seatId>, release <seatId>, seats, held, quit.
func main() {
	_ = godotenv.Load() // .env is optional; real env wins

	cfg := config.Load()
	flightID := os.Getenv("FLIGHT_ID")
	if flightID == "" {
		log.Fatal("missing required env var: FLIGHT_ID")
	}

	// Redis backs cross-tab coordination and selection persistence.  When
	// unreachable the engine runs standalone.
	var shared storage.SharedStore
	if client := config.NewRedisClient(); client != nil {
		if rs, err := storage.NewRedis(client); err == nil {
			shared = rs
		}
	} else {
		log.Printf("redis unreachable, running without shared store")
	}

	eng := engine.New(cfg, shared)
	defer eng.Shutdown()

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		log.Printf("initial connect failed, retrying in background: %v", err)
	}

	go func() {
		for n := range eng.Notices() {
			fmt.Printf("\n!! %s\n> ", n.Message)
		}
	}()

	if ok := eng.Subscribe(ctx, flightID, func(u model.SeatUpdate) {
		fmt.Printf("\n<- seat %s available=%t status=%s\n> ", u.SeatID, u.Available, u.Status)
	}); !ok {
		log.Printf("subscription pending, will attach on reconnect")
	}

	fmt.Printf("watching flight %s as %s\n", flightID, eng.UserID())
	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}
		switch fields[0] {
		case "select", "release":
			if len(fields) != 2 {
				fmt.Println("usage: " + fields[0] + " <seatId>")
				break
			}
			var ok bool
			if fields[0] == "select" {
				ok = eng.Select(ctx, fields[1], flightID)
			} else {
				ok = eng.Release(ctx, fields[1], flightID)
			}
			fmt.Printf("%s %s: %t\n", fields[0], fields[1], ok)
		case "seats":
			for _, seat := range eng.Seats(flightID) {
				marker := " "
				switch {
				case seat.Booked:
					marker = "x"
				case !seat.Available:
					marker = "o"
				}
				fmt.Printf("[%s] %-4s %s\n", marker, seat.SeatNumber, seat.ID)
			}
		case "held":
			fmt.Println(strings.Join(eng.Selection(flightID), ", "))
		case "reconnect":
			fmt.Printf("forceReconnect: %v\n", eng.ForceReconnect(ctx))
		case "quit", "exit":
			return
		default:
			fmt.Println("commands: select <seatId> | release <seatId> | seats | held | reconnect | quit")
		}
		fmt.Print("> ")
	}
}
