package models

import "time"

// BackupArchive describes one rotated, checksummed snapshot of a protected buffer
type BackupArchive struct {
	ID             string            `json:"id"`
	BufferID       string            `json:"buffer_id"`
	CreatedAt      time.Time         `json:"created_at"`
	Checksum       string            `json:"checksum"`
	Size           int64             `json:"size"`
	CompressedSize int64             `json:"compressed_size"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// BackupUsage reports how much space the archive directory holds
type BackupUsage struct {
	Count        int     `json:"backup_count"`
	TotalBytes   int64   `json:"total_bytes"`
	AverageBytes float64 `json:"average_bytes"`
}
