package votestore

import (
	"path/filepath"
	"testing"

	"github.com/replset/topology/pkg/topology"
)

func TestMemStore_PersistAndLoad(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Load(); err != nil || ok {
		t.Fatalf("expected no vote yet, got ok=%v err=%v", ok, err)
	}

	want := topology.LastVote{Term: 7, CandidateIndex: 2}
	if err := s.Persist(want); err != nil {
		t.Fatalf("persist: %v", err)
	}

	got, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("load after persist: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestBoltStore_PersistSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := topology.LastVote{Term: 3, CandidateIndex: 1}
	if err := s1.Persist(want); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, ok, err := s2.Load()
	if err != nil || !ok {
		t.Fatalf("load after reopen: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if filepath.Base(dir) == "" {
		t.Fatalf("sanity: empty temp dir")
	}
}
