package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/receipto/receipto/internal/annotation"
)

const (
	receiptBucketName    = "receipts"
	annotationBucketName = "annotations"
	expectedBucketName   = "expected"
	readStatusBucketName = "readStatus"
)

// ErrNotFound is wrapped by lookups that miss, so callers can distinguish
// an absent record from a broken store.
var ErrNotFound = errors.New("not found")

// StoredAnnotation keeps the raw OCR output for an image together with the
// request metadata it arrived with. The regression corpus is built from
// these records.
type StoredAnnotation struct {
	ImageAddress string                `json:"imageAddress"`
	ReceiptStyle string                `json:"receiptStyle"`
	EmailAddress string                `json:"emailAddress"`
	SheetFormat  string                `json:"sheetFormat"`
	Annotation   annotation.Annotation `json:"annotation"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// ReadStatus records how the latest extraction of an image went: the
// permits granted per section and any failures raised along the way.
type ReadStatus struct {
	ImageAddress string    `json:"imageAddress"`
	Version      string    `json:"version"`
	Permits      Permits   `json:"permits"`
	Failures     []Failure `json:"failures"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// Failed reports whether the extraction recorded here should count as a
// failure case: any failure raised, or any section permit withheld.
func (s *ReadStatus) Failed() bool {
	return len(s.Failures) > 0 || !s.Permits.AllTrue()
}

// DB defines the interface for database operations. All records are keyed
// by image address.
type DB interface {
	// SaveReceipt saves an extracted receipt
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by image address
	GetReceipt(imageAddress string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt
	DeleteReceipt(imageAddress string) error

	// SaveAnnotation saves the raw OCR annotation for an image
	SaveAnnotation(stored *StoredAnnotation) error

	// GetAnnotation retrieves the raw OCR annotation for an image
	GetAnnotation(imageAddress string) (*StoredAnnotation, error)

	// ListAnnotations returns every stored annotation
	ListAnnotations() ([]*StoredAnnotation, error)

	// SaveExpected saves the hand-checked expected receipt for an image
	SaveExpected(receipt *Receipt) error

	// GetExpected retrieves the expected receipt for an image
	GetExpected(imageAddress string) (*Receipt, error)

	// ListExpected returns all expected receipts
	ListExpected() ([]*Receipt, error)

	// DeleteExpected removes an expected receipt
	DeleteExpected(imageAddress string) error

	// SaveReadStatus records the outcome of the latest extraction
	SaveReadStatus(status *ReadStatus) error

	// GetReadStatus retrieves the recorded outcome for an image
	GetReadStatus(imageAddress string) (*ReadStatus, error)

	// ListReadStatuses returns all recorded outcomes
	ListReadStatuses() ([]*ReadStatus, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{
			receiptBucketName, annotationBucketName, expectedBucketName, readStatusBucketName,
		} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) put(bucket, key string, value any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshaling %s record: %w", bucket, err)
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func (b *BoltDB) get(bucket, key string, out any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s record %s: %w", bucket, key, ErrNotFound)
		}
		return json.Unmarshal(data, out)
	})
}

func (b *BoltDB) delete(bucket, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

// SaveReceipt saves an extracted receipt
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.put(receiptBucketName, receipt.ImageAddress, receipt)
}

// GetReceipt retrieves a receipt by image address
func (b *BoltDB) GetReceipt(imageAddress string) (*Receipt, error) {
	var receipt Receipt
	if err := b.get(receiptBucketName, imageAddress, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptBucketName)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt
func (b *BoltDB) DeleteReceipt(imageAddress string) error {
	return b.delete(receiptBucketName, imageAddress)
}

// SaveAnnotation saves the raw OCR annotation for an image
func (b *BoltDB) SaveAnnotation(stored *StoredAnnotation) error {
	return b.put(annotationBucketName, stored.ImageAddress, stored)
}

// GetAnnotation retrieves the raw OCR annotation for an image
func (b *BoltDB) GetAnnotation(imageAddress string) (*StoredAnnotation, error) {
	var stored StoredAnnotation
	if err := b.get(annotationBucketName, imageAddress, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListAnnotations returns every stored annotation
func (b *BoltDB) ListAnnotations() ([]*StoredAnnotation, error) {
	annotations := make([]*StoredAnnotation, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(annotationBucketName)).ForEach(func(k, v []byte) error {
			var stored StoredAnnotation
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("unmarshaling annotation: %w", err)
			}
			annotations = append(annotations, &stored)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return annotations, nil
}

// SaveExpected saves the hand-checked expected receipt for an image
func (b *BoltDB) SaveExpected(receipt *Receipt) error {
	return b.put(expectedBucketName, receipt.ImageAddress, receipt)
}

// GetExpected retrieves the expected receipt for an image
func (b *BoltDB) GetExpected(imageAddress string) (*Receipt, error) {
	var receipt Receipt
	if err := b.get(expectedBucketName, imageAddress, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListExpected returns all expected receipts
func (b *BoltDB) ListExpected() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(expectedBucketName)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling expected receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteExpected removes an expected receipt
func (b *BoltDB) DeleteExpected(imageAddress string) error {
	return b.delete(expectedBucketName, imageAddress)
}

// SaveReadStatus records the outcome of the latest extraction
func (b *BoltDB) SaveReadStatus(status *ReadStatus) error {
	return b.put(readStatusBucketName, status.ImageAddress, status)
}

// GetReadStatus retrieves the recorded outcome for an image
func (b *BoltDB) GetReadStatus(imageAddress string) (*ReadStatus, error) {
	var status ReadStatus
	if err := b.get(readStatusBucketName, imageAddress, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListReadStatuses returns all recorded outcomes
func (b *BoltDB) ListReadStatuses() ([]*ReadStatus, error) {
	statuses := make([]*ReadStatus, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(readStatusBucketName)).ForEach(func(k, v []byte) error {
			var status ReadStatus
			if err := json.Unmarshal(v, &status); err != nil {
				return fmt.Errorf("unmarshaling read status: %w", err)
			}
			statuses = append(statuses, &status)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
