package bus

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestConnect_RetriesWhenServerIsDown(t *testing.T) {
	t.Parallel()

	nc, err := Connect("nats://127.0.0.1:1", "ispctl-test", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if st := nc.Status(); st == nats.CONNECTED {
		t.Fatalf("status=%v", st)
	}

	Close(nc)
	if !nc.IsClosed() {
		t.Fatalf("connection not closed")
	}
	Close(nc)
	Close(nil)
}
