package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/cuemby/ldengine/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketReservations     = []byte("reservations")
	bucketDatabases        = []byte("databases")
	bucketDownloadRequests = []byte("download_requests")
	bucketDeposits         = []byte("deposits")
	bucketBatches          = []byte("batches")
	bucketAuditEvents      = []byte("audit_events")
	bucketSeq              = []byte("seq")
)

func recordsBucket(c types.Collection) []byte     { return []byte("records_" + string(c)) }
func idxDBStatusBucket(c types.Collection) []byte  { return []byte("idx_" + string(c) + "_db_status") }
func idxStaffStatusBucket(c types.Collection) []byte {
	return []byte("idx_" + string(c) + "_staff_status")
}
func idxDBRownumBucket(c types.Collection) []byte { return []byte("idx_" + string(c) + "_db_rownum") }

// BoltStore implements Store using an embedded BoltDB file. One bucket per
// entity, plus per-collection secondary index buckets for records
// (database_id+status, assigned_to+status, database_id+row_number unique),
// updated inside the same transaction as the primary record write.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the engine's database file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "engine.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketReservations,
			bucketDatabases,
			bucketDownloadRequests,
			bucketDeposits,
			bucketBatches,
			bucketAuditEvents,
			bucketSeq,
		}
		for _, c := range types.Collections() {
			buckets = append(buckets,
				recordsBucket(c),
				idxDBStatusBucket(c),
				idxStaffStatusBucket(c),
				idxDBRownumBucket(c),
			)
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Reservations ---

func (s *BoltStore) CreateReservation(r *types.Reservation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(r.ID), data)
	})
}

func (s *BoltStore) GetReservation(id string) (*types.Reservation, error) {
	var r types.Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("reservation not found: %s", id)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListReservations() ([]*types.Reservation, error) {
	var out []*types.Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		return b.ForEach(func(k, v []byte) error {
			var r types.Reservation
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListReservationsByStatus(status types.ReservationStatus) ([]*types.Reservation, error) {
	all, err := s.ListReservations()
	if err != nil {
		return nil, err
	}
	var out []*types.Reservation
	for _, r := range all {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateReservation(r *types.Reservation) error {
	return s.CreateReservation(r)
}

func (s *BoltStore) DeleteReservation(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		return b.Delete([]byte(id))
	})
}

// --- Records ---

func recordDBStatusKey(databaseID string, status types.RecordStatus, id string) []byte {
	return []byte(databaseID + "|" + string(status) + "|" + id)
}

func recordStaffStatusKey(staffID string, status types.RecordStatus, id string) []byte {
	return []byte(staffID + "|" + string(status) + "|" + id)
}

func recordRownumKey(databaseID string, rowNumber int) []byte {
	return []byte(databaseID + "|" + strconv.Itoa(rowNumber))
}

func putRecordIndices(tx *bolt.Tx, collection types.Collection, r *types.Record) error {
	idxDBStatus := tx.Bucket(idxDBStatusBucket(collection))
	if err := idxDBStatus.Put(recordDBStatusKey(r.DatabaseID, r.Status, r.ID), []byte(r.ID)); err != nil {
		return err
	}
	if r.AssignedTo != "" {
		idxStaffStatus := tx.Bucket(idxStaffStatusBucket(collection))
		if err := idxStaffStatus.Put(recordStaffStatusKey(r.AssignedTo, r.Status, r.ID), []byte(r.ID)); err != nil {
			return err
		}
	}
	idxRownum := tx.Bucket(idxDBRownumBucket(collection))
	return idxRownum.Put(recordRownumKey(r.DatabaseID, r.RowNumber), []byte(r.ID))
}

func deleteRecordIndices(tx *bolt.Tx, collection types.Collection, r *types.Record) error {
	idxDBStatus := tx.Bucket(idxDBStatusBucket(collection))
	if err := idxDBStatus.Delete(recordDBStatusKey(r.DatabaseID, r.Status, r.ID)); err != nil {
		return err
	}
	if r.AssignedTo != "" {
		idxStaffStatus := tx.Bucket(idxStaffStatusBucket(collection))
		if err := idxStaffStatus.Delete(recordStaffStatusKey(r.AssignedTo, r.Status, r.ID)); err != nil {
			return err
		}
	}
	idxRownum := tx.Bucket(idxDBRownumBucket(collection))
	return idxRownum.Delete(recordRownumKey(r.DatabaseID, r.RowNumber))
}

func (s *BoltStore) CreateRecord(collection types.Collection, r *types.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idxRownum := tx.Bucket(idxDBRownumBucket(collection))
		if existing := idxRownum.Get(recordRownumKey(r.DatabaseID, r.RowNumber)); existing != nil {
			return fmt.Errorf("duplicate record: database %s already has row_number %d", r.DatabaseID, r.RowNumber)
		}

		b := tx.Bucket(recordsBucket(collection))
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(r.ID), data); err != nil {
			return err
		}
		return putRecordIndices(tx, collection, r)
	})
}

func (s *BoltStore) GetRecord(collection types.Collection, id string) (*types.Record, error) {
	var r types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(collection))
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record not found: %s", id)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListRecords(collection types.Collection) ([]*types.Record, error) {
	var out []*types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(collection))
		return b.ForEach(func(k, v []byte) error {
			var r types.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) scanIndex(tx *bolt.Tx, collection types.Collection, idxBucket, prefix []byte) ([]*types.Record, error) {
	var out []*types.Record
	recBucket := tx.Bucket(recordsBucket(collection))
	idx := tx.Bucket(idxBucket)
	c := idx.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		data := recBucket.Get(v)
		if data == nil {
			continue
		}
		var r types.Record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *BoltStore) ListRecordsByDatabaseStatus(collection types.Collection, databaseID string, status types.RecordStatus) ([]*types.Record, error) {
	var out []*types.Record
	prefix := []byte(databaseID + "|" + string(status) + "|")
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = s.scanIndex(tx, collection, idxDBStatusBucket(collection), prefix)
		return err
	})
	return out, err
}

func (s *BoltStore) ListRecordsByStaffStatus(collection types.Collection, staffID string, status types.RecordStatus) ([]*types.Record, error) {
	var out []*types.Record
	prefix := []byte(staffID + "|" + string(status) + "|")
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = s.scanIndex(tx, collection, idxStaffStatusBucket(collection), prefix)
		return err
	})
	return out, err
}

func (s *BoltStore) GetRecordByDatabaseRowNumber(collection types.Collection, databaseID string, rowNumber int) (*types.Record, error) {
	var r types.Record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(idxDBRownumBucket(collection))
		id := idx.Get(recordRownumKey(databaseID, rowNumber))
		if id == nil {
			return nil
		}
		recBucket := tx.Bucket(recordsBucket(collection))
		data := recBucket.Get(id)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("record not found: database %s row_number %d", databaseID, rowNumber)
	}
	return &r, nil
}

func (s *BoltStore) UpdateRecord(collection types.Collection, r *types.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(collection))
		oldData := b.Get([]byte(r.ID))
		if oldData == nil {
			return fmt.Errorf("record not found: %s", r.ID)
		}
		var old types.Record
		if err := json.Unmarshal(oldData, &old); err != nil {
			return err
		}
		if err := deleteRecordIndices(tx, collection, &old); err != nil {
			return err
		}

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(r.ID), data); err != nil {
			return err
		}
		return putRecordIndices(tx, collection, r)
	})
}

func (s *BoltStore) DeleteRecord(collection types.Collection, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(collection))
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var old types.Record
		if err := json.Unmarshal(data, &old); err != nil {
			return err
		}
		if err := deleteRecordIndices(tx, collection, &old); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

// --- Database descriptors ---

func (s *BoltStore) CreateDatabase(d *types.DatabaseDescriptor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put([]byte(d.ID), data)
	})
}

func (s *BoltStore) GetDatabase(id string) (*types.DatabaseDescriptor, error) {
	var d types.DatabaseDescriptor
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("database not found: %s", id)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) ListDatabases() ([]*types.DatabaseDescriptor, error) {
	var out []*types.DatabaseDescriptor
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		return b.ForEach(func(k, v []byte) error {
			var d types.DatabaseDescriptor
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, &d)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateDatabase(d *types.DatabaseDescriptor) error {
	return s.CreateDatabase(d)
}

func (s *BoltStore) DeleteDatabase(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		return b.Delete([]byte(id))
	})
}

// --- Download requests ---

func (s *BoltStore) CreateDownloadRequest(r *types.DownloadRequest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDownloadRequests)
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(r.ID), data)
	})
}

func (s *BoltStore) GetDownloadRequest(id string) (*types.DownloadRequest, error) {
	var r types.DownloadRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDownloadRequests)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("download request not found: %s", id)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListDownloadRequests() ([]*types.DownloadRequest, error) {
	var out []*types.DownloadRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDownloadRequests)
		return b.ForEach(func(k, v []byte) error {
			var r types.DownloadRequest
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListDownloadRequestsByStatus(status types.DownloadRequestStatus) ([]*types.DownloadRequest, error) {
	all, err := s.ListDownloadRequests()
	if err != nil {
		return nil, err
	}
	var out []*types.DownloadRequest
	for _, r := range all {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *BoltStore) ListPendingDownloadRequests(databaseID string) ([]*types.DownloadRequest, error) {
	all, err := s.ListDownloadRequests()
	if err != nil {
		return nil, err
	}
	var out []*types.DownloadRequest
	for _, r := range all {
		if r.Status == types.DownloadRequestPending && r.DatabaseID == databaseID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateDownloadRequest(r *types.DownloadRequest) error {
	return s.CreateDownloadRequest(r)
}

// --- Deposits ---

func (s *BoltStore) CreateDeposit(d *types.Deposit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeposits)
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put([]byte(d.ID), data)
	})
}

func (s *BoltStore) GetDeposit(id string) (*types.Deposit, error) {
	var d types.Deposit
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeposits)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("deposit not found: %s", id)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) ListDeposits() ([]*types.Deposit, error) {
	var out []*types.Deposit
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeposits)
		return b.ForEach(func(k, v []byte) error {
			var d types.Deposit
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, &d)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListDepositsByRecomputeKey(key types.RecomputeKey) ([]*types.Deposit, error) {
	all, err := s.ListDeposits()
	if err != nil {
		return nil, err
	}
	var out []*types.Deposit
	for _, d := range all {
		if d.CustomerIDNormalized == key.CustomerIDNormalized && d.ProductID == key.ProductID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *BoltStore) ListDepositsByDate(date string) ([]*types.Deposit, error) {
	all, err := s.ListDeposits()
	if err != nil {
		return nil, err
	}
	var out []*types.Deposit
	for _, d := range all {
		if d.RecordDate == date {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateDeposit(d *types.Deposit) error {
	return s.CreateDeposit(d)
}

func (s *BoltStore) DeleteDeposit(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeposits)
		return b.Delete([]byte(id))
	})
}

// NextInsertionSeq returns a monotonically increasing sequence number,
// used to break ties in the classifier's (record_date, insertion_order) sort.
func (s *BoltStore) NextInsertionSeq() (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSeq)
		var err error
		seq, err = b.NextSequence()
		return err
	})
	return seq, err
}

// --- Batches ---

func (s *BoltStore) CreateBatch(b *types.Batch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBatches)
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(b.ID), data)
	})
}

func (s *BoltStore) GetBatch(id string) (*types.Batch, error) {
	var batch types.Batch
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBatches)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("batch not found: %s", id)
		}
		return json.Unmarshal(data, &batch)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *BoltStore) ListBatches() ([]*types.Batch, error) {
	var out []*types.Batch
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBatches)
		return b.ForEach(func(k, v []byte) error {
			var batch types.Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return err
			}
			out = append(out, &batch)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateBatch(b *types.Batch) error {
	return s.CreateBatch(b)
}

// --- Audit events ---

func (s *BoltStore) CreateAuditEvent(e *types.AuditEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuditEvents)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(e.ID), data)
	})
}

func (s *BoltStore) ListAuditEvents() ([]*types.AuditEvent, error) {
	var out []*types.AuditEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuditEvents)
		return b.ForEach(func(k, v []byte) error {
			var e types.AuditEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	return out, err
}
