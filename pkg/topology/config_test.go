package topology

import (
	"testing"
	"time"
)

func TestConfig_MajoritySizeExcludesArbitersWhenDataOnly(t *testing.T) {
	cfg := Config{Members: []Member{
		{ID: 1, Votes: 1},
		{ID: 2, Votes: 1},
		{ID: 3, Votes: 1, ArbiterOnly: true},
	}}
	if got := cfg.MajoritySize(false); got != 2 {
		t.Fatalf("MajoritySize(false) = %d, want 2", got)
	}
	if got := cfg.MajoritySize(true); got != 2 {
		t.Fatalf("MajoritySize(true) = %d, want 2 (2 data-bearing voters)", got)
	}
}

func TestConfig_ValidateRejectsDuplicateHosts(t *testing.T) {
	cfg := Config{Members: []Member{
		{ID: 1, Host: HostPort{Host: "a", Port: 1}},
		{ID: 2, Host: HostPort{Host: "a", Port: 1}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for duplicate member hosts")
	}
}

func TestConfig_ValidateRejectsOutOfRangeSelfIndex(t *testing.T) {
	cfg := Config{SelfIndex: 5, Members: []Member{{ID: 1}}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an out-of-range selfIndex")
	}
}

func TestConfig_HaveTaggedNodesReachedOpTime(t *testing.T) {
	cfg := Config{Members: []Member{
		{ID: 1, Tags: []Tag{{Key: "dc", Value: "east"}}},
		{ID: 2, Tags: []Tag{{Key: "dc", Value: "west"}}},
		{ID: 3}, // untagged, never counts toward the "dc" constraint
	}}
	table := NewMemberTable()
	table.Reconcile(cfg.Members, 0, time.Time{})
	table.data[0].LastAppliedOpTime = OpTime{Timestamp: 10}
	table.data[1].LastAppliedOpTime = OpTime{Timestamp: 1}
	table.data[2].LastAppliedOpTime = OpTime{Timestamp: 10}

	pattern := TagPattern{{Key: "dc", MinCount: 2}}
	if cfg.HaveTaggedNodesReachedOpTime(table, pattern, OpTime{Timestamp: 10}, false) {
		t.Fatalf("expected the tag constraint to fail: only one tagged member has reached op-time 10")
	}

	table.data[1].LastAppliedOpTime = OpTime{Timestamp: 10}
	if !cfg.HaveTaggedNodesReachedOpTime(table, pattern, OpTime{Timestamp: 10}, false) {
		t.Fatalf("expected the tag constraint to pass once both tagged members have reached op-time 10")
	}
}
