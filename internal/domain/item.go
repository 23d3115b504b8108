// Package domain contains the core business entities for Leopold Dedup.
package domain

import (
	"os"
	"time"
)

// DistributionPolicy selects how an item's data is spread across object
// store servers. The core persists the distribution document but does not
// interpret it; the object store backend does.
type DistributionPolicy string

const (
	// DistributionRoundRobin distributes chunks across servers in turn.
	DistributionRoundRobin DistributionPolicy = "round-robin"

	// DistributionSingleServer pins all chunks of an item to one server.
	DistributionSingleServer DistributionPolicy = "single-server"
)

// Distribution is the opaque placement document attached to every item.
type Distribution struct {
	Policy DistributionPolicy `msgpack:"policy"`

	// BlockSize is the placement granularity in bytes.
	BlockSize uint64 `msgpack:"block_size"`

	// StartIndex is the first server index for round-robin placement.
	StartIndex uint32 `msgpack:"start_index"`
}

// defaultBlockSize is the placement granularity used when the caller does
// not supply a distribution.
const defaultBlockSize = 4 * 1024 * 1024

// NewDistribution creates a distribution document for the given policy
// with default placement parameters.
func NewDistribution(policy DistributionPolicy) *Distribution {
	return &Distribution{
		Policy:    policy,
		BlockSize: defaultBlockSize,
	}
}

// Credentials identifies the owner of an item. It is persisted verbatim
// and never interpreted by the core.
type Credentials struct {
	UID int64 `msgpack:"uid"`
	GID int64 `msgpack:"gid"`
}

// NewCredentials creates credentials for the current process.
func NewCredentials() *Credentials {
	return &Credentials{
		UID: int64(os.Getuid()),
		GID: int64(os.Getgid()),
	}
}

// ItemStatus holds the informational status of an item. The deduplicating
// write path does not maintain Size or ModificationTime; both reflect the
// values recorded at creation or set explicitly by the caller.
type ItemStatus struct {
	// Size is the logical size in bytes.
	Size uint64

	// ModificationTime is the time of the last recorded modification,
	// in microseconds since the epoch.
	ModificationTime int64

	// Age is the local time the status was last refreshed, in
	// microseconds since the epoch. Never persisted.
	Age int64
}

// NowMicro returns the current wall-clock time in microseconds since the
// epoch, the unit used by ItemStatus.
func NowMicro() int64 {
	return time.Now().UnixMicro()
}
