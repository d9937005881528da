package model

import "time"

// Instance is the subset of compute-instance state that participates in
// cross-cell sync (spec.md section 3, "Instance (sync view)"). The full
// schema lives in the external compute-API database; only these columns are
// whitelisted for instance_update_at_top.
type Instance struct {
	UUID             string         `json:"uuid"`
	VMState          string         `json:"vm_state"`
	TaskState        string         `json:"task_state"`
	Deleted          bool           `json:"deleted"`
	Hostname         string         `json:"hostname"`
	Metadata         map[string]string `json:"metadata"`
	SystemMetadata   map[string]string `json:"system_metadata"`
	InfoCache        []byte         `json:"info_cache,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// VMStateError is the vm_state the scheduler stamps an instance with when
// scheduling has failed on every candidate cell.
const VMStateError = "error"

// SyncAttributes is the whitelist of columns instance_update_at_top is
// allowed to write, per spec.md section 4.4.
var SyncAttributes = []string{
	"vm_state",
	"task_state",
	"deleted",
	"hostname",
	"metadata",
	"system_metadata",
	"updated_at",
}
