package models

import "time"

// MemoryRecord is an encrypted, importance-ranked note. Content is write-once.
type MemoryRecord struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Seq              uint64    `json:"seq"`
	EncryptedContent []byte    `json:"encrypted_content"`
	SourceTag        string    `json:"source_tag"`
	Importance       float64   `json:"importance"`
}

// DecryptStatus tells "no content" apart from "content could not be decrypted"
type DecryptStatus string

const (
	DecryptOK     DecryptStatus = "ok"
	DecryptEmpty  DecryptStatus = "empty"
	DecryptFailed DecryptStatus = "failed"
)

// DecryptResult is the tagged outcome of decrypting a record
type DecryptResult struct {
	Content string        `json:"content"`
	Status  DecryptStatus `json:"status"`
	Err     error         `json:"-"`
}
