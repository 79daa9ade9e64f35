// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/sequence.go -package=mocks . SequenceStore

// SequenceStore is a durable, monotonic counter per client id. Reserve reads
// the next value without persisting anything: calling it twice without an
// intervening Commit returns the same value. Commit durably persists a value
// and must survive a process crash without rewinding. A reservation that is
// never committed is simply lost; gaps are acceptable, duplicates are not.
type SequenceStore interface {
	Reserve(clientID string) (int64, error)
	Commit(clientID string, value int64) error
}
