// Package service holds the measurement operations shared by the CLI, the
// HTTP API and the capture scheduler.
package service

import (
	"time"
)

// SystemInfo contains version and runtime information.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
	Device    string    `json:"device"`
}

// SystemService provides system-level operations.
type SystemService interface {
	GetSystemInfo() SystemInfo
}

// MemorySystemService is a SystemService backed by fixed in-memory state.
type MemorySystemService struct {
	info SystemInfo
}

// NewMemorySystemService creates a MemorySystemService with the given info.
func NewMemorySystemService(info SystemInfo) *MemorySystemService {
	return &MemorySystemService{info: info}
}

func (s *MemorySystemService) GetSystemInfo() SystemInfo {
	return s.info
}
