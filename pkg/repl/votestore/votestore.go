// Package votestore persists the last vote cast by a node across
// restarts, satisfying topology.VoteStorage. Storage selection follows
// the same disk-vs-memory split as the raft consensus backend: a bolt
// store when a data directory is configured, an in-memory map
// otherwise.
package votestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/replset/topology/pkg/topology"
)

var voteKey = []byte("lastVote")

// Store persists and loads a single topology.LastVote record.
type Store interface {
	topology.VoteStorage
	Load() (topology.LastVote, bool, error)
	Close() error
}

// Open returns a disk-backed Store rooted at dataDir, or an in-memory
// Store if dataDir is empty.
func Open(dataDir string) (Store, error) {
	if dataDir == "" {
		return newMemStore(), nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	bpath := filepath.Join(dataDir, "vote.db")
	bstore, err := raftboltdb.NewBoltStore(bpath)
	if err != nil {
		return nil, fmt.Errorf("votestore: open %s: %w", bpath, err)
	}
	return &boltStore{bstore: bstore}, nil
}

type boltStore struct {
	bstore *raftboltdb.BoltStore
}

func (s *boltStore) Persist(v topology.LastVote) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.bstore.Set(voteKey, data)
}

func (s *boltStore) Load() (topology.LastVote, bool, error) {
	data, err := s.bstore.Get(voteKey)
	if err != nil {
		// raftboltdb returns an error for a missing key rather than nil,nil.
		return topology.LastVote{}, false, nil
	}
	if len(data) == 0 {
		return topology.LastVote{}, false, nil
	}
	var v topology.LastVote
	if err := json.Unmarshal(data, &v); err != nil {
		return topology.LastVote{}, false, err
	}
	return v, true, nil
}

func (s *boltStore) Close() error { return s.bstore.Close() }

type memStore struct {
	mu      sync.Mutex
	vote    topology.LastVote
	present bool
}

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) Persist(v topology.LastVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vote = v
	s.present = true
	return nil
}

func (s *memStore) Load() (topology.LastVote, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vote, s.present, nil
}

func (s *memStore) Close() error { return nil }

var _ Store = (*boltStore)(nil)
var _ Store = (*memStore)(nil)
