package topology

import "time"

// newTestConfig builds a 3-member voting configuration with self at
// index 0, used across the package's tests.
func newTestConfig() Config {
	return Config{
		Version:         1,
		ProtocolVersion: ProtocolVersion1,
		SetName:         "rs0",
		SelfIndex:       0,
		Members: []Member{
			{ID: 1, Host: HostPort{Host: "n1", Port: 27017}, Priority: 1, Votes: 1, BuildIndexes: true},
			{ID: 2, Host: HostPort{Host: "n2", Port: 27017}, Priority: 1, Votes: 1, BuildIndexes: true},
			{ID: 3, Host: HostPort{Host: "n3", Port: 27017}, Priority: 1, Votes: 1, BuildIndexes: true},
		},
	}
}

func newTestCoordinator() *Coordinator {
	c := NewCoordinator(DefaultOptions())
	now := time.Unix(1000, 0)
	if err := c.UpdateConfig(newTestConfig(), now); err != nil {
		panic(err)
	}
	return c
}

// markPeerUp is a test helper that simulates a successful heartbeat
// round-trip against peer index i.
func markPeerUp(c *Coordinator, idx int, now time.Time, op OpTime) {
	d := c.table.At(idx)
	d.Health = HealthUp
	d.LastUpdate = now
	d.State = StateSecondary
	d.LastAppliedOpTime = op
	d.LastDurableOpTime = op
}
