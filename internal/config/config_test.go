package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadParsesAllThreeFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "PET-7H24M.ini", `[PET7H24M]
device_ip = 192.168.1.50
device_port = 5001
sample_rate = 20000
enable_ai0 = true
enable_ai1 = true
enable_ai2 = false
enable_ai3 = false
gain = 2
trigger_mode = 0
target_count = 0
data_trans_method = 1
auto_run = false
`)
	writeFile(t, dir, "csv.ini", `[DumpUnit]
; rotation period
second = 1800
`)
	writeFile(t, dir, "sql.ini", `[SQLServer]
enabled = true
host = db.internal
port = 5433
user = daq
password = secret
database = pet7h24m

[DumpUnit]
second = 2
`)

	store, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.50", store.Device.DeviceIP)
	assert.Equal(t, 5001, store.Device.DevicePort)
	assert.Equal(t, 20000, store.Device.SampleRate)
	assert.Equal(t, [4]bool{true, true, false, false}, store.Device.EnableAI)

	assert.Equal(t, 1800, store.CSV.RotationSeconds)

	assert.True(t, store.SQL.Enabled)
	assert.Equal(t, "db.internal", store.SQL.Host)
	assert.Equal(t, 5433, store.SQL.Port)
	assert.Equal(t, 2, store.SQL.UploadSeconds)

	k, indices := store.Device.ActiveChannels()
	assert.Equal(t, 2, k)
	assert.Equal(t, []int{0, 1}, indices)
}

func TestLoadAppliesDefaultsWhenKeysAbsent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "PET-7H24M.ini", "[PET7H24M]\n")
	writeFile(t, dir, "csv.ini", "[DumpUnit]\n")
	writeFile(t, dir, "sql.ini", "[SQLServer]\n[DumpUnit]\n")

	store, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", store.Device.DeviceIP)
	assert.Equal(t, 10000, store.Device.SampleRate)
	assert.Equal(t, 3600, store.CSV.RotationSeconds)
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "PET-7H24M.ini", "[PET7H24M]\nnot_a_key_value_pair\n")
	writeFile(t, dir, "csv.ini", "[DumpUnit]\n")
	writeFile(t, dir, "sql.ini", "[SQLServer]\n[DumpUnit]\n")

	_, err := Load(dir)
	assert.Error(t, err)
}
