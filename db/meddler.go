package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/russross/meddler"
)

// init registers tags to be used to read/write from SQL DBs using meddler
func init() {
	meddler.Default = meddler.SQLite
	meddler.Register("hash", HashMeddler{})
	meddler.Register("hashlist", HashListMeddler{})
	meddler.Register("address", AddressMeddler{})
	meddler.Register("uuid", UUIDMeddler{})
	meddler.Register("timestamp", TimestampMeddler{})
	meddler.Register("timestampPtr", TimestampPtrMeddler{})
}

// HashMeddler encodes or decodes the field value to or from string
type HashMeddler struct{}

// PreRead is called before a Scan operation for fields that have the HashMeddler
func (b HashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// give a pointer to a byte buffer to grab the raw data
	return new(string), nil
}

// PostRead is called after a Scan operation for fields that have the HashMeddler
func (b HashMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*string)
	if !ok {
		return errors.New("scanTarget is not *string")
	}
	if ptr == nil {
		return fmt.Errorf("HashMeddler.PostRead: nil pointer")
	}
	field, ok := fieldPtr.(*common.Hash)
	if !ok {
		return errors.New("fieldPtr is not common.Hash")
	}
	*field = common.HexToHash(*ptr)
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the HashMeddler
func (b HashMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.(common.Hash)
	if !ok {
		return nil, errors.New("fieldPtr is not common.Hash")
	}
	return field.Hex(), nil
}

// HashListMeddler encodes or decodes a []common.Hash to or from a comma
// separated hex string. The empty list is stored as the empty string.
type HashListMeddler struct{}

// PreRead is called before a Scan operation for fields that have the HashListMeddler
func (b HashListMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(string), nil
}

// PostRead is called after a Scan operation for fields that have the HashListMeddler
func (b HashListMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*string)
	if !ok {
		return errors.New("scanTarget is not *string")
	}
	if ptr == nil {
		return fmt.Errorf("HashListMeddler.PostRead: nil pointer")
	}
	field, ok := fieldPtr.(*[]common.Hash)
	if !ok {
		return errors.New("fieldPtr is not []common.Hash")
	}
	if *ptr == "" {
		*field = nil
		return nil
	}
	parts := strings.Split(*ptr, ",")
	hashes := make([]common.Hash, 0, len(parts))
	for _, part := range parts {
		hashes = append(hashes, common.HexToHash(part))
	}
	*field = hashes
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the HashListMeddler
func (b HashListMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.([]common.Hash)
	if !ok {
		return nil, errors.New("fieldPtr is not []common.Hash")
	}
	hexes := make([]string, 0, len(field))
	for _, hash := range field {
		hexes = append(hexes, hash.Hex())
	}
	return strings.Join(hexes, ","), nil
}

// AddressMeddler encodes or decodes the field value to or from string
type AddressMeddler struct{}

// PreRead is called before a Scan operation for fields that have the AddressMeddler
func (b AddressMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// give a pointer to a byte buffer to grab the raw data
	return new(string), nil
}

// PostRead is called after a Scan operation for fields that have the AddressMeddler
func (b AddressMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*string)
	if !ok {
		return errors.New("scanTarget is not *string")
	}
	if ptr == nil {
		return errors.New("AddressMeddler.PostRead: nil pointer")
	}
	field, ok := fieldPtr.(*common.Address)
	if !ok {
		return errors.New("fieldPtr is not common.Address")
	}
	*field = common.HexToAddress(*ptr)
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the AddressMeddler
func (b AddressMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.(common.Address)
	if !ok {
		return nil, errors.New("fieldPtr is not common.Address")
	}
	return field.Hex(), nil
}

// UUIDMeddler encodes or decodes the field value to or from string
type UUIDMeddler struct{}

// PreRead is called before a Scan operation for fields that have the UUIDMeddler
func (b UUIDMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(string), nil
}

// PostRead is called after a Scan operation for fields that have the UUIDMeddler
func (b UUIDMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*string)
	if !ok {
		return errors.New("scanTarget is not *string")
	}
	if ptr == nil {
		return errors.New("UUIDMeddler.PostRead: nil pointer")
	}
	field, ok := fieldPtr.(*uuid.UUID)
	if !ok {
		return errors.New("fieldPtr is not uuid.UUID")
	}
	parsed, err := uuid.Parse(*ptr)
	if err != nil {
		return fmt.Errorf("UUIDMeddler.PostRead: %w", err)
	}
	*field = parsed
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the UUIDMeddler
func (b UUIDMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.(uuid.UUID)
	if !ok {
		return nil, errors.New("fieldPtr is not uuid.UUID")
	}
	return field.String(), nil
}

// TimestampMeddler encodes or decodes a time.Time to or from unix nanoseconds.
// Nanosecond storage keeps hash recomputation stable after a round-trip.
type TimestampMeddler struct{}

// PreRead is called before a Scan operation for fields that have the TimestampMeddler
func (b TimestampMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(int64), nil
}

// PostRead is called after a Scan operation for fields that have the TimestampMeddler
func (b TimestampMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*int64)
	if !ok {
		return errors.New("scanTarget is not *int64")
	}
	field, ok := fieldPtr.(*time.Time)
	if !ok {
		return errors.New("fieldPtr is not time.Time")
	}
	*field = time.Unix(0, *ptr).UTC()
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the TimestampMeddler
func (b TimestampMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.(time.Time)
	if !ok {
		return nil, errors.New("fieldPtr is not time.Time")
	}
	return field.UnixNano(), nil
}

// TimestampPtrMeddler encodes or decodes an optional *time.Time to or from a
// nullable unix nanosecond column
type TimestampPtrMeddler struct{}

// PreRead is called before a Scan operation for fields that have the TimestampPtrMeddler
func (b TimestampPtrMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullInt64), nil
}

// PostRead is called after a Scan operation for fields that have the TimestampPtrMeddler
func (b TimestampPtrMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*sql.NullInt64)
	if !ok {
		return errors.New("scanTarget is not *sql.NullInt64")
	}
	field, ok := fieldPtr.(**time.Time)
	if !ok {
		return errors.New("fieldPtr is not *time.Time")
	}
	if !ptr.Valid {
		*field = nil
		return nil
	}
	parsed := time.Unix(0, ptr.Int64).UTC()
	*field = &parsed
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the TimestampPtrMeddler
func (b TimestampPtrMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.(*time.Time)
	if !ok {
		return nil, errors.New("fieldPtr is not *time.Time")
	}
	return UnixNanoOrNil(field), nil
}

// UnixNanoOrNil converts an optional time to its nullable column value
func UnixNanoOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
