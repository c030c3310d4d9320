// Package idgen provides ID generation implementations.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/artpar/billmeter/ports"
	"github.com/google/uuid"
)

// TimeOrdered generates v7 UUIDs. Event ids minted on the client side sort
// roughly by creation time, which keeps primary-key inserts append-only.
type TimeOrdered struct{}

func (TimeOrdered) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

var _ ports.IDGenerator = TimeOrdered{}

// Sequential generates prefix1, prefix2, ... for tests.
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

// Reset restarts the sequence.
func (s *Sequential) Reset() {
	s.counter.Store(0)
}

var _ ports.IDGenerator = (*Sequential)(nil)
