package shmid_test

import (
	"testing"

	"github.com/FairRootGroup/fairmq-go/internal/shmid"
)

func TestIDDeterministic(t *testing.T) {
	a := shmid.ID("demo", 1000)
	b := shmid.ID("demo", 1000)
	if a != b {
		t.Fatalf("ID not deterministic: %s != %s", a, b)
	}
	if len(a) != 8 {
		t.Fatalf("expected 8 hex digits, got %d (%s)", len(a), a)
	}
}

func TestIDIsolatesBySessionAndUser(t *testing.T) {
	a := shmid.ID("demo", 1000)
	b := shmid.ID("demo", 1001)
	c := shmid.ID("other", 1000)
	if a == b {
		t.Fatal("different uids produced the same shm id")
	}
	if a == c {
		t.Fatal("different session names produced the same shm id")
	}
}

func TestUint64Deterministic(t *testing.T) {
	if shmid.Uint64("demo") != shmid.Uint64("demo") {
		t.Fatal("Uint64 not deterministic")
	}
	if shmid.Uint64("demo") == shmid.Uint64("other") {
		t.Fatal("Uint64 collided across different session names")
	}
}
