package config

import (
	"fmt"
	"math/bits"
	"path/filepath"
)

// DeviceConfig mirrors PET-7H24M.ini [PET7H24M].
type DeviceConfig struct {
	DeviceIP        string
	DevicePort      int
	SampleRate      int
	EnableAI        [4]bool
	Gain            int
	TriggerMode     int
	TargetCount     int
	DataTransMethod int
	AutoRun         bool
}

// CSVConfig mirrors csv.ini [DumpUnit].
type CSVConfig struct {
	RotationSeconds int
}

// SQLConfig mirrors sql.ini [SQLServer] and [DumpUnit].
type SQLConfig struct {
	Enabled        bool
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	UploadSeconds  int
}

// Store holds the three loaded files and their filesystem locations, so
// internal/httpapi's GET/POST /config handlers can round-trip them.
type Store struct {
	dir    string
	Device DeviceConfig
	CSV    CSVConfig
	SQL    SQLConfig
}

// Load reads PET-7H24M.ini, csv.ini and sql.ini from dir (conventionally
// "API/" per the external-interfaces contract).
func Load(dir string) (*Store, error) {
	s := &Store{dir: dir}

	devDoc, err := parseINI(filepath.Join(dir, "PET-7H24M.ini"))
	if err != nil {
		return nil, err
	}
	s.Device, err = parseDeviceConfig(devDoc)
	if err != nil {
		return nil, fmt.Errorf("PET-7H24M.ini: %w", err)
	}

	csvDoc, err := parseINI(filepath.Join(dir, "csv.ini"))
	if err != nil {
		return nil, err
	}
	rotation, err := csvDoc.getInt("DumpUnit", "second", 3600)
	if err != nil {
		return nil, fmt.Errorf("csv.ini: %w", err)
	}
	s.CSV = CSVConfig{RotationSeconds: rotation}

	sqlDoc, err := parseINI(filepath.Join(dir, "sql.ini"))
	if err != nil {
		return nil, err
	}
	s.SQL, err = parseSQLConfig(sqlDoc)
	if err != nil {
		return nil, fmt.Errorf("sql.ini: %w", err)
	}

	return s, nil
}

func parseDeviceConfig(doc ini) (DeviceConfig, error) {
	var d DeviceConfig
	var err error

	d.DeviceIP = doc.get("PET7H24M", "device_ip", "127.0.0.1")
	if d.DevicePort, err = doc.getInt("PET7H24M", "device_port", 5000); err != nil {
		return d, err
	}
	if d.SampleRate, err = doc.getInt("PET7H24M", "sample_rate", 10000); err != nil {
		return d, err
	}
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("enable_ai%d", i)
		if d.EnableAI[i], err = doc.getBool("PET7H24M", key, false); err != nil {
			return d, err
		}
	}
	if d.Gain, err = doc.getInt("PET7H24M", "gain", 0); err != nil {
		return d, err
	}
	if d.TriggerMode, err = doc.getInt("PET7H24M", "trigger_mode", 0); err != nil {
		return d, err
	}
	if d.TargetCount, err = doc.getInt("PET7H24M", "target_count", 0); err != nil {
		return d, err
	}
	if d.DataTransMethod, err = doc.getInt("PET7H24M", "data_trans_method", 0); err != nil {
		return d, err
	}
	if d.AutoRun, err = doc.getBool("PET7H24M", "auto_run", false); err != nil {
		return d, err
	}
	return d, nil
}

func parseSQLConfig(doc ini) (SQLConfig, error) {
	var s SQLConfig
	var err error

	if s.Enabled, err = doc.getBool("SQLServer", "enabled", false); err != nil {
		return s, err
	}
	s.Host = doc.get("SQLServer", "host", "localhost")
	if s.Port, err = doc.getInt("SQLServer", "port", 5432); err != nil {
		return s, err
	}
	s.User = doc.get("SQLServer", "user", "postgres")
	s.Password = doc.get("SQLServer", "password", "")
	s.Database = doc.get("SQLServer", "database", "postgres")
	if s.UploadSeconds, err = doc.getInt("DumpUnit", "second", 3600); err != nil {
		return s, err
	}
	return s, nil
}

// ActiveChannels returns K and the ascending active channel indices, the
// derived quantities the Run Configuration carries per the data model.
func (d DeviceConfig) ActiveChannels() (k int, indices []int) {
	for i, enabled := range d.EnableAI {
		if enabled {
			indices = append(indices, i)
		}
	}
	return bits.OnesCount8(channelMask(d)), indices
}

func channelMask(d DeviceConfig) uint8 {
	var mask uint8
	for i, enabled := range d.EnableAI {
		if enabled {
			mask |= 1 << uint(i)
		}
	}
	return mask
}
