// Package types defines the core domain entities shared by every engine
// component: reservations, records, databases, download requests, deposits,
// and audit events. Types carry semantic attributes only; storage layout is
// owned by pkg/storage.
package types

import "time"

// Collection identifies one of the three parallel record collections.
type Collection string

const (
	CollectionGeneral  Collection = "general"
	CollectionBonanza  Collection = "bonanza"
	CollectionMemberWD Collection = "memberwd"
)

// Collections lists every collection the engine manages, in a stable order.
func Collections() []Collection {
	return []Collection{CollectionGeneral, CollectionBonanza, CollectionMemberWD}
}

// ReservationStatus is the lifecycle state of a Reservation.
type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "pending"
	ReservationApproved ReservationStatus = "approved"
	ReservationExpired  ReservationStatus = "expired"
)

// Reservation is an exclusive claim by one staff member on one product for a
// set of customer identifiers (customer_id and/or customer_name).
type Reservation struct {
	ID                string            `json:"id"`
	CustomerID        string            `json:"customer_id"`
	CustomerName      string            `json:"customer_name"`
	ProductID         string            `json:"product_id"`
	StaffID           string            `json:"staff_id"`
	RequestedBy       string            `json:"requested_by"`
	Phone             string            `json:"phone,omitempty"`
	Status            ReservationStatus `json:"status"`
	IsPermanent       bool              `json:"is_permanent"`
	GraceDaysOverride *int              `json:"grace_days_override,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	ApprovedAt        *time.Time        `json:"approved_at,omitempty"`
}

// RecordStatus is the lifecycle state of a Record.
type RecordStatus string

const (
	RecordAvailable RecordStatus = "available"
	RecordReserved  RecordStatus = "reserved"
	RecordAssigned  RecordStatus = "assigned"
	RecordInvalid   RecordStatus = "invalid"
	RecordArchived  RecordStatus = "archived"
)

// InvalidReason explains why a record transitioned to RecordInvalid.
type InvalidReason string

const (
	InvalidReasonNone            InvalidReason = ""
	InvalidReasonReservedByOther InvalidReason = "RESERVED_BY_OTHER_STAFF"
	InvalidReasonAdminMarked     InvalidReason = "ADMIN_MARKED"
)

// WhatsAppStatus is staff-reported WhatsApp contact outcome for a record.
type WhatsAppStatus string

const (
	WhatsAppUnset   WhatsAppStatus = ""
	WhatsAppAda     WhatsAppStatus = "ada"
	WhatsAppCeklis1 WhatsAppStatus = "ceklis1"
	WhatsAppTidak   WhatsAppStatus = "tidak"
)

// RespondStatus is staff-reported customer response outcome for a record.
type RespondStatus string

const (
	RespondUnset RespondStatus = ""
	RespondYa    RespondStatus = "ya"
	RespondTidak RespondStatus = "tidak"
)

// Record is one row from an uploaded database, scoped to a Collection.
type Record struct {
	ID            string            `json:"id"`
	Collection    Collection        `json:"collection"`
	DatabaseID    string            `json:"database_id"`
	ProductID     string            `json:"product_id"`
	RowNumber     int               `json:"row_number"`
	RowData       map[string]string `json:"row_data"`
	Status        RecordStatus      `json:"status"`
	AssignedTo    string            `json:"assigned_to,omitempty"`
	AssignedAt    *time.Time        `json:"assigned_at,omitempty"`
	InvalidReason InvalidReason     `json:"invalid_reason,omitempty"`
	ReservedBy    string            `json:"reserved_by,omitempty"`
	BatchID       string            `json:"batch_id,omitempty"`
	WhatsApp      WhatsAppStatus    `json:"whatsapp_status,omitempty"`
	Respond       RespondStatus     `json:"respond_status,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// DatabaseDescriptor is metadata for one uploaded source database.
type DatabaseDescriptor struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	ProductID    string     `json:"product_id"`
	Collection   Collection `json:"collection"`
	AutoApprove  *bool      `json:"auto_approve,omitempty"`
	TotalRecords int        `json:"total_records"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DownloadRequestStatus is the lifecycle state of a DownloadRequest.
type DownloadRequestStatus string

const (
	DownloadRequestPending   DownloadRequestStatus = "pending"
	DownloadRequestApproved  DownloadRequestStatus = "approved"
	DownloadRequestRejected  DownloadRequestStatus = "rejected"
	DownloadRequestCompleted DownloadRequestStatus = "completed"
)

// DownloadRequest is a staff request for N records from a database.
type DownloadRequest struct {
	ID          string                `json:"id"`
	DatabaseID  string                `json:"database_id"`
	StaffID     string                `json:"staff_id"`
	Count       int                   `json:"count"`
	Status      DownloadRequestStatus `json:"status"`
	AssignedIDs []string              `json:"assigned_ids,omitempty"`
	RequestedAt time.Time             `json:"requested_at"`
	ReviewedAt  *time.Time            `json:"reviewed_at,omitempty"`
	ReviewedBy  string                `json:"reviewed_by,omitempty"`
}

// CustomerType is the derived NDP/RDP classification of a Deposit.
type CustomerType string

const (
	CustomerTypeUnclassified CustomerType = ""
	CustomerTypeNDP          CustomerType = "NDP"
	CustomerTypeRDP          CustomerType = "RDP"
)

// Deposit is an append-only record of a deposit event ("omset").
type Deposit struct {
	ID                   string       `json:"id"`
	StaffID              string       `json:"staff_id"`
	ProductID            string       `json:"product_id"`
	CustomerID           string       `json:"customer_id"`
	CustomerIDNormalized string       `json:"customer_id_normalized"`
	RecordDate           string       `json:"record_date"` // YYYY-MM-DD, Asia/Jakarta
	Nominal              int64        `json:"nominal_cents"`
	Notes                string       `json:"notes,omitempty"`
	CustomerType         CustomerType `json:"customer_type"`
	InsertionSeq         uint64       `json:"insertion_seq"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// RecomputeKey identifies one (customer, product) classification group.
type RecomputeKey struct {
	CustomerIDNormalized string
	ProductID            string
}

// AuditEvent is an append-only record of a state change relevant to
// reservations, invalidations, download-request decisions, or classification
// flips. Consumed by notification and report-delivery adapters.
type AuditEvent struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Actor   string         `json:"actor"`
	Subject string         `json:"subject"`
	Data    map[string]any `json:"data,omitempty"`
	Ts      time.Time      `json:"ts"`
}

// Batch groups records assigned together via one download request or random
// assignment, carrying a pinnable flag for administrative retention.
type Batch struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StaffID   string    `json:"staff_id"`
	Pinned    bool      `json:"pinned"`
	RecordIDs []string  `json:"record_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// DailyStaffBreakdown is one staff's slice of a daily report.
type DailyStaffBreakdown struct {
	StaffID      string `json:"staff_id"`
	NDP          int    `json:"ndp"`
	RDP          int    `json:"rdp"`
	TotalForms   int    `json:"total_forms"`
	NominalTotal int64  `json:"nominal_total_cents"`
}

// DailyProductBreakdown is one product's slice of a daily report.
type DailyProductBreakdown struct {
	ProductID    string `json:"product_id"`
	NDP          int    `json:"ndp"`
	RDP          int    `json:"rdp"`
	TotalForms   int    `json:"total_forms"`
	NominalTotal int64  `json:"nominal_total_cents"`
}

// DailyReport is the assembled report for one calendar date.
type DailyReport struct {
	Date             string                   `json:"date"`
	ProductFilter    string                   `json:"product_filter,omitempty"`
	StaffBreakdown   []DailyStaffBreakdown    `json:"staff_breakdown"`
	ProductBreakdown []DailyProductBreakdown  `json:"product_breakdown"`
	GeneratedAt      time.Time                `json:"generated_at"`
}
