package topologycons

import (
	"context"
	"testing"
	"time"

	"github.com/replset/topology/pkg/topology"
)

func singleMemberConfig() topology.Config {
	return topology.Config{
		Version:         1,
		ProtocolVersion: topology.ProtocolVersion1,
		SetName:         "rs0",
		Members: []topology.Member{
			{ID: 0, Host: topology.HostPort{Host: "127.0.0.1", Port: 0}, Priority: 1, Votes: 1, BuildIndexes: true},
		},
		SelfIndex: 0,
	}
}

func TestNode_StartStopLifecycle(t *testing.T) {
	n, err := New(Options{NodeID: "0", BindAddr: "127.0.0.1:0", Config: singleMemberConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	if n.Coordinator() == nil {
		t.Fatalf("Coordinator() returned nil after Start")
	}
	if n.Term() != 0 {
		t.Fatalf("Term() = %d, want 0 before any election", n.Term())
	}
	if n.IsLeader() {
		t.Fatalf("IsLeader() true before any election")
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNode_AddVoterAndRemoveServer(t *testing.T) {
	n, err := New(Options{NodeID: "0", BindAddr: "127.0.0.1:0", Config: singleMemberConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	if err := n.AddVoter("1", "127.0.0.1:27019", time.Second); err != nil {
		t.Fatalf("AddVoter: %v", err)
	}
	cfg := n.Coordinator().Config()
	if len(cfg.Members) != 2 {
		t.Fatalf("len(Members) = %d, want 2 after AddVoter", len(cfg.Members))
	}
	if cfg.Version != 2 {
		t.Fatalf("Version = %d, want 2 after AddVoter", cfg.Version)
	}
	if _, ok := cfg.FindMemberByID(1); !ok {
		t.Fatalf("added member with id 1 not found in config")
	}

	// Adding the same address again is a no-op, not a duplicate member.
	if err := n.AddVoter("1", "127.0.0.1:27019", time.Second); err != nil {
		t.Fatalf("AddVoter (repeat): %v", err)
	}
	if got := len(n.Coordinator().Config().Members); got != 2 {
		t.Fatalf("len(Members) = %d after repeat AddVoter, want 2 (no duplicate)", got)
	}

	if err := n.RemoveServer("1", time.Second); err != nil {
		t.Fatalf("RemoveServer: %v", err)
	}
	cfg = n.Coordinator().Config()
	if len(cfg.Members) != 1 {
		t.Fatalf("len(Members) = %d, want 1 after RemoveServer", len(cfg.Members))
	}
	if cfg.SelfIndex != 0 {
		t.Fatalf("SelfIndex = %d, want 0 (self untouched by removing a later member)", cfg.SelfIndex)
	}
}

func TestNode_RemoveServerUnknownIDIsNoop(t *testing.T) {
	n, err := New(Options{NodeID: "0", BindAddr: "127.0.0.1:0", Config: singleMemberConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	before := n.Coordinator().Config()
	if err := n.RemoveServer("does-not-exist", time.Second); err != nil {
		t.Fatalf("RemoveServer: %v", err)
	}
	after := n.Coordinator().Config()
	if after.Version != before.Version {
		t.Fatalf("Version changed on a no-op RemoveServer: before=%d after=%d", before.Version, after.Version)
	}
}
