package pagination

import (
	"encoding/json"
	"time"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/coordinator"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/keynorm"
)

const checkpointTTL = 7 * 24 * time.Hour // spec §4.7: checkpoint TTL ~= 7 days

// Checkpoint persists pagination state through the Coordinator under
// data_type=checkpoint, per spec §4.7.
type Checkpoint struct {
	co               *coordinator.Coordinator
	namespaceVersion int
}

// NewCheckpoint wires a Checkpoint over an already-constructed Coordinator.
func NewCheckpoint(co *coordinator.Coordinator, namespaceVersion int) *Checkpoint {
	return &Checkpoint{co: co, namespaceVersion: namespaceVersion}
}

func (c *Checkpoint) key(query string) (string, error) {
	fp := keynorm.Fingerprint(keynorm.Params{"query": query})
	return keynorm.ComposeKey(cachetypes.DataTypeCheckpoint, c.namespaceVersion, "pagination", fp)
}

// Save serializes state to canonical JSON and writes it under the
// checkpoint key derived from state.Query.
func (c *Checkpoint) Save(state State) error {
	key, err := c.key(state.Query)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return cachetypes.NewError(cachetypes.KindValidation, "pagination.Save", "", err)
	}
	return c.co.Set(key, raw, checkpointTTL, "", cachetypes.DataTypeCheckpoint, coordinator.TargetAuto)
}

// Load returns the persisted state for query, or (State{}, false) if no
// checkpoint exists.
func (c *Checkpoint) Load(query string) (State, bool, error) {
	key, err := c.key(query)
	if err != nil {
		return State{}, false, err
	}
	raw, ok := c.co.Get(key, coordinator.TargetAuto)
	if !ok {
		return State{}, false, nil
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, false, cachetypes.NewError(cachetypes.KindValidation, "pagination.Load", "", err)
	}
	return state, true, nil
}

// Exists reports whether a checkpoint is present for query.
func (c *Checkpoint) Exists(query string) bool {
	key, err := c.key(query)
	if err != nil {
		return false
	}
	_, ok := c.co.Get(key, coordinator.TargetAuto)
	return ok
}

// Delete removes any persisted checkpoint for query.
func (c *Checkpoint) Delete(query string) error {
	key, err := c.key(query)
	if err != nil {
		return err
	}
	c.co.Delete(key, coordinator.TargetAuto)
	return nil
}
