package types

import (
	"encoding/json"
	"fmt"
)

// Decode parses and validates a single record of collection c. Records coming
// back from the store must carry an id.
func Decode(c Collection, raw json.RawMessage) (Record, error) {
	switch c {
	case Users:
		return decodeOne[User](c, raw)
	case Xassidas:
		return decodeOne[Xassida](c, raw)
	case Evenements:
		return decodeOne[Evenement](c, raw)
	case Lectures:
		return decodeOne[Lecture](c, raw)
	case Diwanes:
		return decodeOne[Diwane](c, raw)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, string(c))
}

// DecodeList parses a JSON array of records of collection c. A JSON null decodes
// to an empty list.
func DecodeList(c Collection, raw json.RawMessage) ([]Record, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %s: expected an array: %v", ErrInvalidRecord, c, err)
	}
	records := make([]Record, 0, len(items))
	for i, item := range items {
		rec, err := Decode(c, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// EncodeList serializes records as a JSON array.
func EncodeList(records []Record) (json.RawMessage, error) {
	if records == nil {
		records = []Record{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	return b, nil
}

func decodeOne[T Record](c Collection, raw json.RawMessage) (Record, error) {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, c, err)
	}
	if rec.RecordID() == "" {
		return nil, invalid(c, "missing id")
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
