package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/aadithya-v/geotrack"
	"github.com/aadithya-v/geotrack/source"
)

func main() {
	push := source.NewPush(16)

	// Option 1: Zero-config (SQLite)
	// Just works out of the box - creates geotrack.db automatically
	tracker, err := geotrack.New(geotrack.Config{
		Source: push,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracker: %v", err)
	}
	defer tracker.Close()

	// Option 2: Production config (MySQL sessions + Redis state and relay)
	// Uncomment to use:
	/*
		mysqlStore, err := store.NewMySQLFromDSN("user:password@tcp(localhost:3306)/geotrack?parseTime=true")
		if err != nil {
			log.Fatalf("Failed to connect to MySQL: %v", err)
		}

		client, err := store.NewRedisClient(store.RedisConfig{Addr: "localhost:6379"})
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}

		tracker, err = geotrack.New(geotrack.Config{
			Source:       push,
			SessionStore: mysqlStore,
			StateStore:   store.NewRedisStateStore(client, "geotrack:"),
			Relay:        store.NewRedisRelay(client, "geotrack:"),
		})
	*/

	ctx := context.Background()

	updates := tracker.Subscribe(32)
	go func() {
		for ev := range updates.C {
			switch ev.Type {
			case geotrack.EventLocation:
				fmt.Printf("  fix #%d  %.5f, %.5f  (%s so far)\n",
					ev.PointCount, ev.Lat, ev.Lng, geotrack.FormatDistance(ev.Distance))
			default:
				fmt.Printf("  %s (session %d)\n", ev.Type, ev.SessionID)
			}
		}
	}()

	id, err := tracker.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	fmt.Printf("Recording session %d\n", id)

	// Walk a small circle around the Eiffel Tower, one fix every 200ms.
	const steps = 12
	for i := 0; i <= steps; i++ {
		angle := 2 * math.Pi * float64(i) / steps
		fix := geotrack.Fix{
			Lat: 48.8584 + 0.002*math.Sin(angle),
			Lng: 2.2945 + 0.003*math.Cos(angle),
		}
		if err := push.Push(ctx, fix); err != nil {
			log.Fatalf("Failed to push fix: %v", err)
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := tracker.Stop(ctx); err != nil {
		log.Fatalf("Failed to stop session: %v", err)
	}
	tracker.Unsubscribe(updates)

	summary, err := tracker.Summary(ctx, id)
	if err != nil {
		log.Fatalf("Failed to summarize session: %v", err)
	}

	fmt.Println()
	fmt.Printf("Session %d\n", summary.SessionID)
	fmt.Printf("  started   %s\n", geotrack.FormatDateTime(summary.StartTime))
	fmt.Printf("  duration  %s\n", geotrack.FormatDuration(summary.Duration))
	fmt.Printf("  distance  %s\n", geotrack.FormatDistance(summary.Distance))
	fmt.Printf("  points    %d\n", summary.PointCount)
}
