// Package persist defines the persistence adapter consumed by the store's
// commit path.
package persist

import (
	"context"
	"encoding/json"
)

// Persister is the contract between a store and its persistence adapter.
// The store invokes Persist through a throttled writer, at most once per
// configured interval, decoupled from dispatch execution; implementations
// therefore do not need their own rate limiting. Implementations must be
// safe for concurrent use.
type Persister[S any] interface {
	// Read loads the persisted state. The second return value reports whether
	// a persisted state exists; absence is not an error.
	Read(ctx context.Context) (S, bool, error)

	// Persist durably records the transition from previous to next. Adapters
	// that store full snapshots may ignore previous.
	Persist(ctx context.Context, previous, next S) error

	// Delete removes any persisted state. Deleting absent state is a no-op.
	Delete(ctx context.Context) error
}

// Codec converts a state value to and from its serialized form. Adapters that
// store serialized snapshots are parameterized over a Codec so state types
// with custom encodings remain persistable.
type Codec[S any] interface {
	Marshal(state S) ([]byte, error)
	Unmarshal(data []byte) (S, error)
}

// JSONCodec is the default Codec, using encoding/json.
type JSONCodec[S any] struct{}

func (JSONCodec[S]) Marshal(state S) ([]byte, error) {
	return json.Marshal(state)
}

func (JSONCodec[S]) Unmarshal(data []byte) (S, error) {
	var state S
	err := json.Unmarshal(data, &state)
	return state, err
}
