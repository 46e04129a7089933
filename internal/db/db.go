// Package db provides the xref store interface and implementations.
package db

import "github.com/objcflow/objcflow/internal/model"

// Database is the interface that wraps the xref store operations.
type Database interface {
	// Connect connects to the database.
	Connect() error

	// SaveBinary creates or replaces the record of an indexed binary.
	SaveBinary(b *model.Binary) error

	// GetBinary returns the binary stored under uuid.
	// It returns model.ErrNotFound if the uuid does not exist.
	GetBinary(uuid string) (*model.Binary, error)

	// CreateCallSites stores the call sites of a binary.
	CreateCallSites(sites []*model.CallSite) error

	// CallSites returns every call site of a binary ordered by address.
	CallSites(uuid string) ([]*model.CallSite, error)

	// CallersOf returns the call sites whose destination is addr.
	CallersOf(uuid string, addr uint64) ([]*model.CallSite, error)

	// SendersOf returns the msgSend call sites dispatching sel.
	SendersOf(uuid, sel string) ([]*model.CallSite, error)

	// DeleteBinary removes a binary and its call sites.
	DeleteBinary(uuid string) error

	// Close closes the database.
	Close() error
}
