package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}
	return client
}

func TestRedisStateStore(t *testing.T) {
	ctx := context.Background()
	s := NewRedisStateStore(newTestRedis(t), "test:")
	defer s.Close()

	state, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Active {
		t.Error("empty store should load an inactive state")
	}

	at := time.UnixMilli(1_700_000_000_000)
	if err := s.SaveState(ctx, State{Active: true, SessionID: 12, Owner: "pid-1", UpdatedAt: at}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	state, err = s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !state.Active || state.SessionID != 12 || state.Owner != "pid-1" || !state.UpdatedAt.Equal(at) {
		t.Errorf("LoadState = %+v", state)
	}
}

func TestRedisConnectFailure(t *testing.T) {
	_, err := NewRedisClient(RedisConfig{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Error("expected connection error")
	}
}

func TestRedisRelayPublish(t *testing.T) {
	ctx := context.Background()
	relay := NewRedisRelay(newTestRedis(t), "")
	defer relay.Close()

	sub := relay.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := relay.Publish(ctx, 3, []byte(`{"type":"location"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != `{"type":"location"}` {
			t.Errorf("payload = %q", msg.Payload)
		}
		id, err := relay.SessionIDFromChannel(msg.Channel)
		if err != nil || id != 3 {
			t.Errorf("SessionIDFromChannel(%q) = %d, %v; want 3", msg.Channel, id, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed message")
	}
}

func TestRedisRelayChannel(t *testing.T) {
	relay := &RedisRelay{prefix: "geotrack:"}
	if got := relay.Channel(42); got != "geotrack:session:42:updates" {
		t.Errorf("Channel(42) = %q", got)
	}
	if _, err := relay.SessionIDFromChannel("geotrack:"); err == nil {
		t.Error("expected error for short channel name")
	}
}

func TestRedisRelaySessionIDFromChannelRejectsForeignChannels(t *testing.T) {
	relay := &RedisRelay{prefix: "geotrack:"}

	for _, ch := range []string{
		"otherapp:metrics42:updates",
		"otherapp:session:42:updates",
		"geotrack:session:42:events",
		"geotrack:session::updates",
		"geotrack:session:abc:updates",
	} {
		if id, err := relay.SessionIDFromChannel(ch); err == nil {
			t.Errorf("SessionIDFromChannel(%q) = %d, want error", ch, id)
		}
	}

	id, err := relay.SessionIDFromChannel("geotrack:session:42:updates")
	if err != nil || id != 42 {
		t.Errorf("SessionIDFromChannel = %d, %v; want 42", id, err)
	}
}
