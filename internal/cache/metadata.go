package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

// metadataDocument 是 metadata.json 的字段契约，字段名不可更改。
type metadataDocument struct {
	ExpiryDate float64 `json:"expiry_date"`
	Filename   string  `json:"filename,omitempty"`
	Extension  string  `json:"extension,omitempty"`
}

func encodeMetadata(record Record) ([]byte, error) {
	doc := metadataDocument{
		ExpiryDate: float64(record.ExpiresAt.UnixNano()) / float64(time.Second),
		Filename:   record.Filename,
		Extension:  record.Extension,
	}
	return json.MarshalIndent(doc, "", "  ")
}

func readMetadata(path string) (*metadataDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc metadataDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.ExpiryDate <= 0 || math.IsNaN(doc.ExpiryDate) || math.IsInf(doc.ExpiryDate, 0) {
		return nil, fmt.Errorf("decode %s: invalid expiry_date", path)
	}
	return &doc, nil
}

func (d metadataDocument) expiresAt() time.Time {
	sec, frac := math.Modf(d.ExpiryDate)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
