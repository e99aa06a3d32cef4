package transport_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/FairRootGroup/fairmq-go/api"
	"github.com/FairRootGroup/fairmq-go/internal/region"
	"github.com/FairRootGroup/fairmq-go/transport"
)

func testConfig(t *testing.T, name string) *api.Config {
	t.Helper()
	cfg := api.DefaultConfig()
	cfg.Session = fmt.Sprintf("%s-%s", name, t.Name())
	cfg.Monitor = false
	cfg.SegmentSize = 1 << 20
	return cfg
}

func TestFactoryAllocatesAndReleasesMessage(t *testing.T) {
	f, err := transport.New(testConfig(t, "alloc"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Close()

	msg, err := f.NewMessage(64)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if f.MessageCount() != 1 {
		t.Fatalf("expected message count 1, got %d", f.MessageCount())
	}
	copy(msg.GetData(), []byte("payload"))
	msg.Close()
	if f.MessageCount() != 0 {
		t.Fatalf("expected message count 0 after close, got %d", f.MessageCount())
	}
}

func TestFactoryResetPanicsWithLiveMessages(t *testing.T) {
	f, err := transport.New(testConfig(t, "reset"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Close()

	msg, err := f.NewMessage(16)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	defer msg.Close()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Reset to panic with a live message")
		}
	}()
	f.Reset()
}

func TestFactorySocketsExchangeMessageAcrossTwoInstances(t *testing.T) {
	cfg := testConfig(t, "ipc")

	fa, err := transport.New(cfg)
	if err != nil {
		t.Fatalf("New factory A: %v", err)
	}
	defer fa.Close()

	fb, err := transport.New(cfg)
	if err != nil {
		t.Fatalf("New factory B: %v", err)
	}
	defer fb.Close()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sender, err := fa.NewSocket(transport.NewNetConn(a), api.Push)
	if err != nil {
		t.Fatalf("NewSocket sender: %v", err)
	}
	receiver, err := fb.NewSocket(transport.NewNetConn(b), api.Pull)
	if err != nil {
		t.Fatalf("NewSocket receiver: %v", err)
	}

	msg, err := fa.NewMessage(5)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	copy(msg.GetData(), "hello")

	done := make(chan struct{})
	var recvErr error
	var recvData string
	go func() {
		defer close(done)
		recvd, _, err := receiver.Receive(1000)
		if err != nil {
			recvErr = err
			return
		}
		recvData = string(recvd.GetData())
	}()

	if code, _, err := sender.Send(msg, 1000); code != api.TransferOK || err != nil {
		t.Fatalf("Send: code=%v err=%v", code, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Receive")
	}
	if recvErr != nil {
		t.Fatalf("Receive: %v", recvErr)
	}
	if recvData != "hello" {
		t.Fatalf("expected %q, got %q", "hello", recvData)
	}
}

func TestFactoryCreateRegionRegistersAndResolves(t *testing.T) {
	f, err := transport.New(testConfig(t, "region"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Close()

	r, err := f.CreateRegion(4096, region.Options{})
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}

	resolved, ok := f.Region(r.ID())
	if !ok || resolved != r {
		t.Fatalf("expected Region(%d) to resolve the just-created region", r.ID())
	}
}
