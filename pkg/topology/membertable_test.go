package topology

import (
	"testing"
	"time"
)

func newTestTable() *MemberTable {
	t := NewMemberTable()
	t.Reconcile([]Member{
		{ID: 1, Host: HostPort{Host: "n1", Port: 1}, Votes: 1},
		{ID: 2, Host: HostPort{Host: "n2", Port: 1}, Votes: 1},
		{ID: 3, Host: HostPort{Host: "n3", Port: 1}, Votes: 1},
	}, 0, time.Unix(0, 0))
	return t
}

func alwaysMajority([]MemberData) bool { return true }
func neverMajority([]MemberData) bool  { return false }

func TestMemberTable_ReconcilePreservesDataAcrossConfigChange(t *testing.T) {
	table := newTestTable()
	table.data[1].Health = HealthUp
	table.data[1].LastAppliedOpTime = OpTime{Timestamp: 42}

	table.Reconcile([]Member{
		{ID: 1, Host: HostPort{Host: "n1", Port: 1}, Votes: 1},
		{ID: 2, Host: HostPort{Host: "n2", Port: 1}, Votes: 1},
		{ID: 4, Host: HostPort{Host: "n4", Port: 1}, Votes: 1},
	}, 0, time.Unix(1, 0))

	d, ok := table.ByID(2)
	if !ok {
		t.Fatalf("expected member 2 to survive reconciliation")
	}
	if d.Health != HealthUp || d.LastAppliedOpTime.Timestamp != 42 {
		t.Fatalf("expected member 2's liveness data to be preserved, got %+v", d)
	}
	if _, ok := table.ByID(3); ok {
		t.Fatalf("expected member 3 to be dropped")
	}
	if _, ok := table.ByID(4); !ok {
		t.Fatalf("expected member 4 to be added")
	}
}

func TestMemberTable_SetMemberAsDownReportsLostMajority(t *testing.T) {
	table := newTestTable()
	lostMajority := table.setMemberAsDown(time.Unix(1, 0), 1, neverMajority)
	if !lostMajority {
		t.Fatalf("expected setMemberAsDown to report a lost majority")
	}
	if table.At(1).Health != HealthDown {
		t.Fatalf("expected member 1 to be marked down")
	}
}

func TestMemberTable_CheckMemberTimeoutsStepsDownPrimaryOnLostMajority(t *testing.T) {
	table := newTestTable()
	table.data[1].LastUpdate = time.Unix(0, 0)
	table.data[2].LastUpdate = time.Unix(0, 0)

	action := table.checkMemberTimeouts(time.Unix(100, 0), 10*time.Second, true, neverMajority)
	if action.Kind != ActionStepDownSelf {
		t.Fatalf("expected ActionStepDownSelf, got %v", action.Kind)
	}
}

func TestMemberTable_CheckMemberTimeoutsNoActionWhenMajorityHeld(t *testing.T) {
	table := newTestTable()
	table.data[1].LastUpdate = time.Unix(0, 0)

	action := table.checkMemberTimeouts(time.Unix(100, 0), 10*time.Second, true, alwaysMajority)
	if action.Kind != ActionNoAction {
		t.Fatalf("expected ActionNoAction when the majority holds, got %v", action.Kind)
	}
}

func TestMemberTable_BlacklistLazilyExpires(t *testing.T) {
	table := newTestTable()
	host := HostPort{Host: "n2", Port: 1}
	now := time.Unix(0, 0)
	table.blacklistHost(host, now.Add(10*time.Second))

	if !table.isBlacklisted(host, now.Add(5*time.Second)) {
		t.Fatalf("expected host to still be blacklisted before expiry")
	}
	if table.isBlacklisted(host, now.Add(20*time.Second)) {
		t.Fatalf("expected the blacklist entry to have lazily expired")
	}
	if _, ok := table.blacklist[host]; ok {
		t.Fatalf("expected the expired entry to have been pruned on access")
	}
}

func TestMemberTable_GetStalestLiveMember(t *testing.T) {
	table := newTestTable()
	table.data[1].Health = HealthUp
	table.data[1].LastUpdate = time.Unix(10, 0)
	table.data[2].Health = HealthUp
	table.data[2].LastUpdate = time.Unix(5, 0)

	idx, at := table.getStalestLiveMember()
	if idx != 2 || !at.Equal(time.Unix(5, 0)) {
		t.Fatalf("expected index 2 at t=5 to be stalest, got idx=%d at=%v", idx, at)
	}
}
