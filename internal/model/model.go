// Package model contains the xref models for the database.
package model

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// CallKind classifies a call site the way the analyzer does.
type CallKind string

const (
	CallLocal    CallKind = "local"
	CallC        CallKind = "c"
	CallObjc     CallKind = "objc"
	CallMsgSend  CallKind = "msgSend"
	CallDispatch CallKind = "dispatch" // objc dispatch with an unknown target
)

// Binary is an indexed Mach-O slice.
type Binary struct {
	UUID      string `gorm:"primaryKey" json:"uuid"` // UUID, or the path when the binary has none
	Path      string `json:"path"`
	Arch      string `json:"arch,omitempty"`
	Functions int    `json:"functions"`
	CallSites int    `json:"call_sites"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallSite is a single classified branch.
type CallSite struct {
	ID             uint     `gorm:"primaryKey" json:"-"`
	BinaryUUID     string   `gorm:"index:idx_site,unique;not null" json:"-"`
	Address        uint64   `gorm:"index:idx_site,unique" json:"address"`
	Caller         uint64   `gorm:"index" json:"caller"`
	CallerName     string   `json:"caller_name"`
	Mnemonic       string   `json:"mnemonic"`
	Kind           CallKind `gorm:"index" json:"kind"`
	Destination    uint64   `gorm:"index" json:"destination,omitempty"`
	HasDestination bool     `json:"has_destination"`
	Symbol         string   `gorm:"index" json:"symbol,omitempty"`
	Selref         uint64   `json:"selref,omitempty"`
	Selector       string   `gorm:"index" json:"selector,omitempty"`
}
