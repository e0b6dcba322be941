package backend

import (
	"context"
	"errors"

	"breakthebill/internal/amqp"
	"breakthebill/internal/services"
	"breakthebill/internal/sheets"
	"breakthebill/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the storage for the ledger and, when configured, the
// AMQP client that carries ledger events.
type BackendResult struct {
	Repository storage.Repository
	Events     *amqp.Client
	Cleanup    CleanupFunc
}

// Publisher returns the event publisher for the ledger service, or nil when
// events are disabled. A nil *amqp.Client must not become a non-nil
// interface.
func (r *BackendResult) Publisher() services.EventPublisher {
	if r.Events == nil {
		return nil
	}
	return r.Events
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend opens storage and, optionally, the event broker.
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)

	// CreateExporter builds the spreadsheet exporter used by the worker.
	CreateExporter(ctx context.Context, config Config) (sheets.Exporter, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Ledger events (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export (optional)
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	LogLevel string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

var ErrInvalidBackend = errors.New("invalid backend type")

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
