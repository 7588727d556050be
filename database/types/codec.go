// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/blinklabs-io/tenure/membership"
)

const MemberKeyPrefix = "m"

// MemberKey returns the key-value store key for a member ID
func MemberKey(memberID int64) []byte {
	key := make([]byte, len(MemberKeyPrefix)+8)
	copy(key, MemberKeyPrefix)
	binary.BigEndian.PutUint64(key[len(MemberKeyPrefix):], uint64(memberID)) //nolint:gosec
	return key
}

// MemberIDFromKey extracts the member ID from a key built by MemberKey
func MemberIDFromKey(key []byte) (int64, error) {
	if len(key) != len(MemberKeyPrefix)+8 ||
		string(key[:len(MemberKeyPrefix)]) != MemberKeyPrefix {
		return 0, fmt.Errorf("invalid member key %x", key)
	}
	return int64(binary.BigEndian.Uint64(key[len(MemberKeyPrefix):])), nil //nolint:gosec
}

// EncodeRecord serializes a record for storage in a key-value backend
func EncodeRecord(rec membership.Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// DecodeRecord deserializes and validates a stored record. The member ID
// from the storage key wins over the one in the value, and a mismatch is
// reported as malformed.
func DecodeRecord(memberID int64, data []byte) (membership.Record, error) {
	var rec membership.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return membership.Record{}, &MalformedRecordError{
			Key: strconv.FormatInt(memberID, 10),
			Err: err,
		}
	}
	if rec.MemberID != memberID {
		return membership.Record{}, &MalformedRecordError{
			Key: strconv.FormatInt(memberID, 10),
			Err: fmt.Errorf("value belongs to member %d", rec.MemberID),
		}
	}
	if err := rec.Validate(); err != nil {
		return membership.Record{}, &MalformedRecordError{
			Key: strconv.FormatInt(memberID, 10),
			Err: err,
		}
	}
	return rec, nil
}

// AsMalformed returns the MalformedRecordError in err's chain, if any
func AsMalformed(err error) (*MalformedRecordError, bool) {
	var mErr *MalformedRecordError
	if errors.As(err, &mErr) {
		return mErr, true
	}
	return nil, false
}
