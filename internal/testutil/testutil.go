// Package testutil provides shared test helpers for setting up room
// databases and bus fabrics.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/wrenfield/loreshare/internal/bus"
	"github.com/wrenfield/loreshare/internal/roomstore"
)

// Logger returns a JSON logger that stays quiet below error level.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// RoomDB creates a temporary room database that is automatically cleaned up.
func RoomDB(t *testing.T) *roomstore.DB {
	t.Helper()
	f, err := os.CreateTemp("", "loreshare-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := roomstore.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Broker creates an in-process bus broker torn down with the test.
func Broker(t *testing.T) *bus.Broker {
	t.Helper()
	b := bus.NewBroker()
	t.Cleanup(b.Close)
	return b
}

// Attach creates an adapter for id on b, starts its receive loop, and
// waits until the broker sees the new subscriber.
func Attach(t *testing.T, b *bus.Broker, id string) *bus.Adapter {
	t.Helper()
	before := b.SubscriberCount()

	a := bus.NewAdapter(id, b, Logger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)

	Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return b.SubscriberCount() > before
	}, "adapter "+id+" did not attach")
	return a
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}
