package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// electorCommand is the only log entry this FSM ever applies: who holds
// the Primary role. Adapted from pkg/manager/fsm.go's Command{Op, Data}
// envelope, narrowed from a dozen node/service/task/secret/volume
// mutations down to a single op, since SPEC_FULL.md §4.6 linearizes only
// the Primary-role boolean, never object data or catalog rows.
type electorCommand struct {
	Op        string `json:"op"`
	PrimaryID string `json:"primary_id,omitempty"`
}

// electorFSM implements raft.FSM, tracking the current Primary node ID.
type electorFSM struct {
	mu        sync.RWMutex
	primaryID string
}

func newElectorFSM() *electorFSM {
	return &electorFSM{}
}

func (f *electorFSM) Apply(log *raft.Log) interface{} {
	var cmd electorCommand
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal elector command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "set_primary":
		f.primaryID = cmd.PrimaryID
		return nil
	default:
		return fmt.Errorf("unknown elector command: %s", cmd.Op)
	}
}

func (f *electorFSM) currentPrimary() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.primaryID
}

func (f *electorFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &electorSnapshot{primaryID: f.primaryID}, nil
}

func (f *electorFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap electorSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode elector snapshot: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primaryID = snap.primaryID
	return nil
}

type electorSnapshot struct {
	primaryID string
}

func (s *electorSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		return json.NewEncoder(sink).Encode(s)
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *electorSnapshot) Release() {}

func (s *electorSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PrimaryID string `json:"primary_id"`
	}{PrimaryID: s.primaryID})
}

func (s *electorSnapshot) UnmarshalJSON(data []byte) error {
	var v struct {
		PrimaryID string `json:"primary_id"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.primaryID = v.PrimaryID
	return nil
}
