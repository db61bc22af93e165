package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pax.report/internal/db"
	"github.com/banshee-data/pax.report/internal/pax"
	"github.com/banshee-data/pax.report/internal/radio/ble"
	"github.com/banshee-data/pax.report/internal/radio/wifi"
	"github.com/banshee-data/pax.report/internal/uplink"
)

// DefaultConfigPath is the path to the canonical sensor defaults file.
// This is the single source of truth for the shipped configuration.
const DefaultConfigPath = "config/pax.defaults.json"

// SensorConfig is the root boot-time configuration. Every field is a
// pointer so a partial JSON file overrides only what it names; the
// Get* methods fall back to the shipped defaults for nil fields.
type SensorConfig struct {
	// Counting cycle params
	SendCycle    *string `json:"send_cycle,omitempty"` // duration string like "60s"
	SaltMultiple *int    `json:"salt_multiple,omitempty"`
	HomeCycle    *string `json:"home_cycle,omitempty"` // duration string like "30s"

	// Counting filter params
	QueueCapacity   *int    `json:"queue_capacity,omitempty"`
	DedupCapacity   *int    `json:"dedup_capacity,omitempty"`
	RSSIThreshold   *int    `json:"rssi_threshold,omitempty"` // dBm, negative; 0 disables
	MACFilter       *bool   `json:"mac_filter,omitempty"`
	ProximityPolicy *string `json:"proximity_policy,omitempty"` // off|exclude|tag

	// Wi-Fi radio params
	WifiInterface   *string `json:"wifi_interface,omitempty"` // empty disables the radio
	WifiChannels    []int   `json:"wifi_channels,omitempty"`
	WifiHop         *bool   `json:"wifi_hop,omitempty"`
	WifiHopInterval *string `json:"wifi_hop_interval,omitempty"` // duration string like "500ms"
	WifiPromiscuous *bool   `json:"wifi_promiscuous,omitempty"`

	// BLE radio params
	BLEEnable       *bool   `json:"ble_enable,omitempty"`
	BLERestartDelay *string `json:"ble_restart_delay,omitempty"` // duration string like "2s"

	// Uplink params
	UplinkDevice *string `json:"uplink_device,omitempty"` // empty disables the uplink
	UplinkBaud   *int    `json:"uplink_baud,omitempty"`
	UplinkPort   *int    `json:"uplink_port,omitempty"`
	UplinkQueue  *int    `json:"uplink_queue,omitempty"`

	// Storage params
	DBPath      *string `json:"db_path,omitempty"`      // empty disables the journal
	DBRetention *string `json:"db_retention,omitempty"` // duration string like "720h"

	// Monitor params
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultSensorConfig returns a SensorConfig with every field set to
// the shipped default, mirroring DefaultConfigPath.
func DefaultSensorConfig() *SensorConfig {
	return &SensorConfig{
		SendCycle:       ptrString("60s"),
		SaltMultiple:    ptrInt(pax.DefaultSaltMultiple),
		HomeCycle:       ptrString("30s"),
		QueueCapacity:   ptrInt(pax.DefaultQueueCapacity),
		DedupCapacity:   ptrInt(pax.DefaultDedupCapacity),
		RSSIThreshold:   ptrInt(0),
		MACFilter:       ptrBool(true),
		ProximityPolicy: ptrString(string(pax.ProximityExclude)),
		WifiInterface:   ptrString(""),
		WifiChannels:    append([]int(nil), wifi.DefaultChannels...),
		WifiHop:         ptrBool(true),
		WifiHopInterval: ptrString("500ms"),
		WifiPromiscuous: ptrBool(false),
		BLEEnable:       ptrBool(true),
		BLERestartDelay: ptrString("2s"),
		UplinkDevice:    ptrString(""),
		UplinkBaud:      ptrInt(57600),
		UplinkPort:      ptrInt(uplink.DefaultPort),
		UplinkQueue:     ptrInt(uplink.DefaultQueueCapacity),
		DBPath:          ptrString("pax.db"),
		DBRetention:     ptrString("720h"),
		ListenAddr:      ptrString(":8080"),
	}
}

// LoadSensorConfig loads a SensorConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file keep their
// defaults, so partial configs are safe.
func LoadSensorConfig(path string) (*SensorConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SensorConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SensorConfig) Validate() error {
	for _, d := range []struct {
		name  string
		value *string
	}{
		{"send_cycle", c.SendCycle},
		{"home_cycle", c.HomeCycle},
		{"wifi_hop_interval", c.WifiHopInterval},
		{"ble_restart_delay", c.BLERestartDelay},
		{"db_retention", c.DBRetention},
	} {
		if d.value != nil && *d.value != "" {
			if _, err := time.ParseDuration(*d.value); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
			}
		}
	}

	if c.SaltMultiple != nil && *c.SaltMultiple < 1 {
		return fmt.Errorf("salt_multiple must be at least 1, got %d", *c.SaltMultiple)
	}
	if c.QueueCapacity != nil && *c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be positive, got %d", *c.QueueCapacity)
	}
	if c.DedupCapacity != nil && *c.DedupCapacity < 1 {
		return fmt.Errorf("dedup_capacity must be positive, got %d", *c.DedupCapacity)
	}
	if c.RSSIThreshold != nil {
		if *c.RSSIThreshold > 0 || *c.RSSIThreshold < -128 {
			return fmt.Errorf("rssi_threshold must be between -128 and 0 dBm, got %d", *c.RSSIThreshold)
		}
	}
	if c.ProximityPolicy != nil && *c.ProximityPolicy != "" {
		if !pax.ProximityPolicy(*c.ProximityPolicy).Valid() {
			return fmt.Errorf("proximity_policy must be one of off, exclude, tag, got %q", *c.ProximityPolicy)
		}
	}
	for _, ch := range c.WifiChannels {
		if ch < 1 || ch > 14 {
			return fmt.Errorf("wifi_channels entries must be 2.4 GHz channels 1-14, got %d", ch)
		}
	}
	if c.UplinkBaud != nil && *c.UplinkBaud < 1 {
		return fmt.Errorf("uplink_baud must be positive, got %d", *c.UplinkBaud)
	}
	if c.UplinkPort != nil {
		if *c.UplinkPort < 1 || *c.UplinkPort > 223 {
			return fmt.Errorf("uplink_port must be a LoRaWAN application port 1-223, got %d", *c.UplinkPort)
		}
	}
	if c.UplinkQueue != nil && *c.UplinkQueue < 1 {
		return fmt.Errorf("uplink_queue must be positive, got %d", *c.UplinkQueue)
	}

	return nil
}

// EngineConfig maps the counting fields onto the engine snapshot.
func (c *SensorConfig) EngineConfig() pax.Config {
	return pax.Config{
		SendCycle:       c.GetSendCycle(),
		SaltMultiple:    c.GetSaltMultiple(),
		HomeCycle:       c.GetHomeCycle(),
		DedupCap:        c.GetDedupCapacity(),
		RSSIThreshold:   c.GetRSSIThreshold(),
		MACFilter:       c.GetMACFilter(),
		ProximityPolicy: c.GetProximityPolicy(),
	}
}

func duration(s *string, fallback time.Duration) time.Duration {
	if s == nil || *s == "" {
		return fallback
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return fallback
	}
	return d
}

// GetSendCycle parses and returns the report epoch length.
func (c *SensorConfig) GetSendCycle() time.Duration {
	return duration(c.SendCycle, pax.DefaultSendCycle)
}

// GetSaltMultiple returns the salt_multiple value or the default.
func (c *SensorConfig) GetSaltMultiple() int {
	if c.SaltMultiple == nil {
		return pax.DefaultSaltMultiple
	}
	return *c.SaltMultiple
}

// GetHomeCycle parses and returns the housekeeping cadence.
func (c *SensorConfig) GetHomeCycle() time.Duration {
	return duration(c.HomeCycle, pax.DefaultHomeCycle)
}

// GetQueueCapacity returns the queue_capacity value or the default.
func (c *SensorConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return pax.DefaultQueueCapacity
	}
	return *c.QueueCapacity
}

// GetDedupCapacity returns the dedup_capacity value or the default.
func (c *SensorConfig) GetDedupCapacity() int {
	if c.DedupCapacity == nil {
		return pax.DefaultDedupCapacity
	}
	return *c.DedupCapacity
}

// GetRSSIThreshold returns the rssi_threshold value or 0 (disabled).
func (c *SensorConfig) GetRSSIThreshold() int8 {
	if c.RSSIThreshold == nil || *c.RSSIThreshold > 0 || *c.RSSIThreshold < -128 {
		return 0
	}
	return int8(*c.RSSIThreshold)
}

// GetMACFilter returns the mac_filter value or the default. The shipped
// default filters locally-administered (randomized) addresses.
func (c *SensorConfig) GetMACFilter() bool {
	if c.MACFilter == nil {
		return true
	}
	return *c.MACFilter
}

// GetProximityPolicy returns the proximity_policy value or the default.
func (c *SensorConfig) GetProximityPolicy() pax.ProximityPolicy {
	if c.ProximityPolicy == nil || *c.ProximityPolicy == "" {
		return pax.ProximityExclude
	}
	return pax.ProximityPolicy(*c.ProximityPolicy)
}

// GetWifiInterface returns the capture interface name; empty means the
// Wi-Fi radio is disabled.
func (c *SensorConfig) GetWifiInterface() string {
	if c.WifiInterface == nil {
		return ""
	}
	return *c.WifiInterface
}

// GetWifiChannels returns the hop channel list or the default band.
func (c *SensorConfig) GetWifiChannels() []int {
	if len(c.WifiChannels) == 0 {
		return append([]int(nil), wifi.DefaultChannels...)
	}
	return append([]int(nil), c.WifiChannels...)
}

// GetWifiHop returns the wifi_hop value or the default.
func (c *SensorConfig) GetWifiHop() bool {
	if c.WifiHop == nil {
		return true
	}
	return *c.WifiHop
}

// GetWifiHopInterval parses and returns the per-channel dwell time.
func (c *SensorConfig) GetWifiHopInterval() time.Duration {
	return duration(c.WifiHopInterval, wifi.DefaultHopInterval)
}

// GetWifiPromiscuous returns the wifi_promiscuous value or the
// default. Promiscuous counting accepts every management frame rather
// than probe requests alone.
func (c *SensorConfig) GetWifiPromiscuous() bool {
	if c.WifiPromiscuous == nil {
		return false
	}
	return *c.WifiPromiscuous
}

// GetBLEEnable returns the ble_enable value or the default.
func (c *SensorConfig) GetBLEEnable() bool {
	if c.BLEEnable == nil {
		return true
	}
	return *c.BLEEnable
}

// GetBLERestartDelay parses and returns the scan restart spacing.
func (c *SensorConfig) GetBLERestartDelay() time.Duration {
	return duration(c.BLERestartDelay, ble.DefaultRestartDelay)
}

// GetUplinkDevice returns the modem device path; empty means the
// uplink is disabled.
func (c *SensorConfig) GetUplinkDevice() string {
	if c.UplinkDevice == nil {
		return ""
	}
	return *c.UplinkDevice
}

// GetUplinkBaud returns the uplink_baud value or the default.
func (c *SensorConfig) GetUplinkBaud() int {
	if c.UplinkBaud == nil {
		return 57600
	}
	return *c.UplinkBaud
}

// GetUplinkPort returns the uplink_port value or the default.
func (c *SensorConfig) GetUplinkPort() uint8 {
	if c.UplinkPort == nil || *c.UplinkPort < 1 || *c.UplinkPort > 223 {
		return uplink.DefaultPort
	}
	return uint8(*c.UplinkPort)
}

// GetUplinkQueue returns the uplink_queue value or the default.
func (c *SensorConfig) GetUplinkQueue() int {
	if c.UplinkQueue == nil {
		return uplink.DefaultQueueCapacity
	}
	return *c.UplinkQueue
}

// GetDBPath returns the journal path; empty means the journal is
// disabled.
func (c *SensorConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "pax.db"
	}
	return *c.DBPath
}

// GetDBRetention parses and returns how long journal rows are kept.
func (c *SensorConfig) GetDBRetention() time.Duration {
	return duration(c.DBRetention, db.DefaultRetention)
}

// GetListenAddr returns the monitor listen address or the default.
func (c *SensorConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}
