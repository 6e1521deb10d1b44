// Package inventory persists the fact records gathered from devices that
// call home. Each successful session produces one Record keyed by the
// device's serial number; reconnecting devices overwrite their previous
// record so the store always reflects the latest sighting.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/osshkit/osshd/pkg/device"
)

// ErrNotFound is returned when no record exists for the requested serial
// number.
var ErrNotFound = errors.New("inventory: record not found")

// Record is one device sighting: the facts gathered over the session plus
// where and when the device called in.
type Record struct {
	// Facts is the identity record gathered from the device
	Facts device.Facts `json:"facts"`

	// PeerAddr is the remote address the device connected from
	PeerAddr string `json:"peer_addr"`

	// ConnectedAt is when the session was established
	ConnectedAt time.Time `json:"connected_at"`
}

// Store persists device records.
//
// Implementations must be safe for concurrent use; every device connection
// writes from its own goroutine.
type Store interface {
	// Put saves or replaces the record for its serial number. Records
	// without a serial number are rejected.
	Put(ctx context.Context, rec Record) error

	// Get returns the record for the given serial number, or ErrNotFound.
	Get(ctx context.Context, serialNumber string) (Record, error)

	// List returns all stored records in unspecified order.
	List(ctx context.Context) ([]Record, error)

	// Close releases the store's resources.
	Close() error
}
