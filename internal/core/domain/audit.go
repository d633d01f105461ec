package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// AuditRecord is the durable QA artifact written once per dispatched peer
// call. Records are append-only.
type AuditRecord struct {
	ID                 string    `json:"id"`
	SenderID           string    `json:"senderId"`
	ReceiverID         string    `json:"receiverId"`
	QueryPatientID     string    `json:"queryPatientId"`
	IsTest             bool      `json:"isTest"`
	ResponsePatientIDs []string  `json:"responsePatientIds"`
	RequestBlob        string    `json:"requestBlob,omitempty"`
	ResponseBlob       string    `json:"responseBlob,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	Status             int       `json:"status"`
	ElapsedSeconds     float64   `json:"elapsedSeconds"`
}

// EncodeBlob stores a JSON document as base64 text. Documents that are not
// valid JSON are wrapped as a JSON string first so every blob decodes to JSON.
func EncodeBlob(doc []byte) string {
	if len(doc) == 0 {
		return ""
	}
	if !json.Valid(doc) {
		doc, _ = json.Marshal(string(doc))
	}
	return base64.StdEncoding.EncodeToString(doc)
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(blob string) (json.RawMessage, error) {
	if blob == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode audit blob: %w", err)
	}
	return b, nil
}

// WithoutBlobs returns a copy suitable for listings.
func (r AuditRecord) WithoutBlobs() AuditRecord {
	r.RequestBlob = ""
	r.ResponseBlob = ""
	return r
}
