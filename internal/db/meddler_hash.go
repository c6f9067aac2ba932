//nolint:dupl
package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	// Register custom meddler converter for common.Hash
	meddler.Register("hash", HashMeddler{})
}

// HashMeddler maps common.Hash to a 0x-prefixed hex column. NULL maps to a nil pointer
// or the zero hash.
type HashMeddler struct{}

func (h HashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// Use sql.NullString to handle NULL values
	return new(sql.NullString), nil
}

func (h HashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **common.Hash:
		// Handle pointer to common.Hash
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		hash := common.HexToHash(ns.String)
		*ptr = &hash
		return nil
	case *common.Hash:
		// Handle common.Hash directly
		if !ns.Valid {
			*ptr = common.Hash{}
			return nil
		}
		*ptr = common.HexToHash(ns.String)
		return nil
	}

	return fmt.Errorf("expected *common.Hash or **common.Hash, got %T", fieldAddr)
}

func (h HashMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch hash := field.(type) {
	case *common.Hash:
		if hash == nil {
			return nil, nil
		}
		return hash.Hex(), nil
	case common.Hash:
		return hash.Hex(), nil
	}

	return nil, fmt.Errorf("expected common.Hash or *common.Hash, got %T", field)
}
