// Package repository contains the storage layer for the futures trading system
package repository

import "errors"

var (
	// ErrNotFound is returned when a keyed lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write-once key already exists
	ErrDuplicate = errors.New("duplicate key")
	// ErrTradeClosed is returned when closing a trade that already has an exit
	ErrTradeClosed = errors.New("trade already closed")
	// ErrUnknownTable is returned for maintenance on a table outside the managed set
	ErrUnknownTable = errors.New("unknown table")
)
