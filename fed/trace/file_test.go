package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_ReadFile_RoundTrip(t *testing.T) {
	// GIVEN a populated trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelValues})
	st.RecordGrant(GrantRecord{Federate: "monitor", Requested: 21600, Granted: 0, Updates: 1})
	st.RecordGrant(GrantRecord{Federate: "loadshed", Requested: 1800, Granted: 1800})
	st.RecordPublication(PublicationRecord{Federate: "loadshed", Key: "loadshed/sw_status", Time: 0, Value: "1"})
	st.RecordDelivery(DeliveryRecord{Federate: "monitor", Key: "loadshed/sw_status", Source: "loadshed", Stamp: 0, Granted: 0, Value: "1"})
	path := filepath.Join(t.TempDir(), "run.cbor")

	// WHEN written and read back
	require.NoError(t, WriteFile(path, st))
	got, err := ReadFile(path)
	require.NoError(t, err)

	// THEN the records and header survive
	assert.Equal(t, st.RunID, got.RunID)
	assert.Equal(t, TraceLevelValues, got.Config.Level)
	assert.Equal(t, st.Grants, got.Grants)
	assert.Equal(t, st.Publications, got.Publications)
	assert.Equal(t, st.Deliveries, got.Deliveries)
}

func TestFileWriter_StreamsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cbor")
	w, err := NewFileWriter(path, Header{RunID: "run-1", Level: TraceLevelGrants})
	require.NoError(t, err)
	require.NoError(t, w.Write(Entry{Grant: &GrantRecord{Federate: "a", Granted: 5}}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "Close is idempotent")
	assert.Error(t, w.Write(Entry{}), "write after close")

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, []GrantRecord{{Federate: "a", Granted: 5}}, got.Grants)
}

func TestReadFile_MissingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noheader.cbor")
	w, err := NewFileWriter(path, Header{RunID: "x"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Overwrite with a stream that starts with a grant.
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, encMode.NewEncoder(f).Encode(Entry{Grant: &GrantRecord{Federate: "a"}}))
	require.NoError(t, f.Close())

	_, err = ReadFile(path)
	assert.Error(t, err)
}

func TestWriteFile_NilTrace(t *testing.T) {
	assert.Error(t, WriteFile(filepath.Join(t.TempDir(), "nil.cbor"), nil))
}
