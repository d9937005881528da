package dbgateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	uuid, vmState, taskState, hostname string
	deleted                            bool
	metadata, systemMetadata           []byte
	updatedAt                          time.Time
}

func (r fakeRow) Scan(dest ...any) error {
	*dest[0].(*string) = r.uuid
	*dest[1].(*string) = r.vmState
	*dest[2].(*string) = r.taskState
	*dest[3].(*bool) = r.deleted
	*dest[4].(*string) = r.hostname
	*dest[5].(*[]byte) = r.metadata
	*dest[6].(*[]byte) = r.systemMetadata
	*dest[7].(*time.Time) = r.updatedAt
	return nil
}

func TestScanInstanceDecodesJSONColumns(t *testing.T) {
	now := time.Now().UTC()
	row := fakeRow{
		uuid: "inst-1", vmState: "active", taskState: "", hostname: "host-1",
		metadata:       []byte(`{"k":"v"}`),
		systemMetadata: []byte(`{"sk":"sv"}`),
		updatedAt:      now,
	}

	inst, err := scanInstance(row)
	require.NoError(t, err)
	assert.Equal(t, "inst-1", inst.UUID)
	assert.Equal(t, "v", inst.Metadata["k"])
	assert.Equal(t, "sv", inst.SystemMetadata["sk"])
	assert.Equal(t, now, inst.UpdatedAt)
}

func TestScanInstanceToleratesEmptyJSONColumns(t *testing.T) {
	row := fakeRow{uuid: "inst-2"}
	inst, err := scanInstance(row)
	require.NoError(t, err)
	assert.Nil(t, inst.Metadata)
	assert.Nil(t, inst.SystemMetadata)
}
