package state

import (
	"encoding/json"
	"time"

	"github.com/cuemby/fabric/pkg/types"
)

// DecodeOperationExpiry is the decode function ReapOperations expects: it
// unmarshals the register's value as an Operation and reports whether its
// TTL has elapsed as of now.
func DecodeOperationExpiry(now time.Time) func(json.RawMessage) (bool, error) {
	return func(raw json.RawMessage) (bool, error) {
		var op types.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return false, err
		}
		return op.Expired(now), nil
	}
}
