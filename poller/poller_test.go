package poller_test

import (
	"os"
	"testing"
	"time"

	"github.com/FairRootGroup/fairmq-go/poller"
)

type fdSock struct{ f *os.File }

func (s fdSock) RawFD() uintptr { return s.f.Fd() }

func TestPollDetectsReadableAfterWrite(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	p, err := poller.New([]poller.Target{{Name: "chan-in", Sock: fdSock{r}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Poll(50); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if p.CheckInput(0) {
		t.Fatalf("expected no input ready before any write")
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := p.Poll(1000); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !p.CheckInput(0) {
		t.Fatalf("expected input ready after write")
	}
	ready, err := p.CheckInputChannel("chan-in")
	if err != nil || !ready {
		t.Fatalf("CheckInputChannel: ready=%v err=%v", ready, err)
	}
}

func TestUnknownChannelIsConfigurationError(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	p, err := poller.New([]poller.Target{{Name: "only", Sock: fdSock{r}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if _, err := p.CheckInputChannel("missing"); err == nil {
		t.Fatalf("expected an error for an unknown channel name")
	}
}

func TestDuplicateChannelNameRejectedAtConstruction(t *testing.T) {
	r1, w1, _ := os.Pipe()
	r2, w2, _ := os.Pipe()
	defer r1.Close()
	defer w1.Close()
	defer r2.Close()
	defer w2.Close()

	_, err := poller.New([]poller.Target{
		{Name: "dup", Sock: fdSock{r1}},
		{Name: "dup", Sock: fdSock{r2}},
	})
	if err == nil {
		t.Fatalf("expected duplicate channel name to be rejected")
	}
}
