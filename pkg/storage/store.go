package storage

import (
	"github.com/cuemby/ldengine/pkg/types"
)

// Store defines the persistence interface for the engine's operational
// state: reservations, records (across all three collections), database
// descriptors, download requests, deposits, batches, and audit events. It is
// implemented by BoltStore.
type Store interface {
	// Reservations
	CreateReservation(r *types.Reservation) error
	GetReservation(id string) (*types.Reservation, error)
	ListReservations() ([]*types.Reservation, error)
	ListReservationsByStatus(status types.ReservationStatus) ([]*types.Reservation, error)
	UpdateReservation(r *types.Reservation) error
	DeleteReservation(id string) error

	// Records, scoped by collection
	CreateRecord(collection types.Collection, r *types.Record) error
	GetRecord(collection types.Collection, id string) (*types.Record, error)
	ListRecords(collection types.Collection) ([]*types.Record, error)
	ListRecordsByDatabaseStatus(collection types.Collection, databaseID string, status types.RecordStatus) ([]*types.Record, error)
	ListRecordsByStaffStatus(collection types.Collection, staffID string, status types.RecordStatus) ([]*types.Record, error)
	GetRecordByDatabaseRowNumber(collection types.Collection, databaseID string, rowNumber int) (*types.Record, error)
	UpdateRecord(collection types.Collection, r *types.Record) error
	DeleteRecord(collection types.Collection, id string) error

	// Database descriptors
	CreateDatabase(d *types.DatabaseDescriptor) error
	GetDatabase(id string) (*types.DatabaseDescriptor, error)
	ListDatabases() ([]*types.DatabaseDescriptor, error)
	UpdateDatabase(d *types.DatabaseDescriptor) error
	DeleteDatabase(id string) error

	// Download requests
	CreateDownloadRequest(r *types.DownloadRequest) error
	GetDownloadRequest(id string) (*types.DownloadRequest, error)
	ListDownloadRequests() ([]*types.DownloadRequest, error)
	ListDownloadRequestsByStatus(status types.DownloadRequestStatus) ([]*types.DownloadRequest, error)
	ListPendingDownloadRequests(databaseID string) ([]*types.DownloadRequest, error)
	UpdateDownloadRequest(r *types.DownloadRequest) error

	// Deposits
	CreateDeposit(d *types.Deposit) error
	GetDeposit(id string) (*types.Deposit, error)
	ListDeposits() ([]*types.Deposit, error)
	ListDepositsByRecomputeKey(key types.RecomputeKey) ([]*types.Deposit, error)
	ListDepositsByDate(date string) ([]*types.Deposit, error)
	UpdateDeposit(d *types.Deposit) error
	DeleteDeposit(id string) error
	NextInsertionSeq() (uint64, error)

	// Batches
	CreateBatch(b *types.Batch) error
	GetBatch(id string) (*types.Batch, error)
	ListBatches() ([]*types.Batch, error)
	UpdateBatch(b *types.Batch) error

	// Audit events (append-only)
	CreateAuditEvent(e *types.AuditEvent) error
	ListAuditEvents() ([]*types.AuditEvent, error)

	Close() error
}
