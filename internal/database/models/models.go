// Package models contains the database model definitions for the peer
// journal.
package models

import (
	"time"
)

// NodeRecord is the last ArtPollReply seen from a peer.
// Table: nodes
type NodeRecord struct {
	ID         string    `gorm:"column:id;primaryKey"`
	IP         string    `gorm:"column:ip;uniqueIndex"`
	ShortName  string    `gorm:"column:short_name"`
	LongName   string    `gorm:"column:long_name"`
	NodeReport string    `gorm:"column:node_report"`
	Style      string    `gorm:"column:style"`
	Subnet     int       `gorm:"column:subnet"`
	NumPorts   int       `gorm:"column:num_ports"`
	SwIn       string    `gorm:"column:sw_in"`
	SwOut      string    `gorm:"column:sw_out"`
	MAC        string    `gorm:"column:mac"`
	FirstSeen  time.Time `gorm:"column:first_seen;autoCreateTime"`
	LastSeen   time.Time `gorm:"column:last_seen"`
}

func (NodeRecord) TableName() string { return "nodes" }

// Firmware job states.
const (
	FirmwareJobRunning = "RUNNING"
	FirmwareJobDone    = "DONE"
	FirmwareJobFailed  = "FAILED"
)

// FirmwareJob tracks one outbound firmware upload.
// Table: firmware_jobs
type FirmwareJob struct {
	ID         string     `gorm:"column:id;primaryKey"`
	PeerIP     string     `gorm:"column:peer_ip;index"`
	UBEA       bool       `gorm:"column:ubea;default:false"`
	Words      int        `gorm:"column:words"`
	Status     string     `gorm:"column:status;default:RUNNING"`
	BytesSent  int        `gorm:"column:bytes_sent"`
	StartedAt  time.Time  `gorm:"column:started_at;autoCreateTime"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
}

func (FirmwareJob) TableName() string { return "firmware_jobs" }

// Setting represents a persisted node setting.
// Table: settings
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }

// All lists every model for migration.
func All() []interface{} {
	return []interface{}{&NodeRecord{}, &FirmwareJob{}, &Setting{}}
}
