package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/backkem/crownstone/pkg/behaviour"
	"github.com/backkem/crownstone/pkg/broadcast"
	"github.com/backkem/crownstone/pkg/packet"
	"github.com/backkem/crownstone/pkg/rc5"
	"gopkg.in/yaml.v3"
)

// Config is the fleet file. It is read from TOML or YAML depending on the
// file extension.
type Config struct {
	Sphere    SphereConfig    `toml:"sphere" yaml:"sphere"`
	Broadcast BroadcastConfig `toml:"broadcast" yaml:"broadcast"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Commands  []CommandConfig `toml:"commands" yaml:"commands"`
	Sync      SyncConfig      `toml:"sync" yaml:"sync"`
}

// SphereConfig identifies the sender inside its sphere.
type SphereConfig struct {
	UID             uint8  `toml:"uid" yaml:"uid"`
	AccessLevel     string `toml:"access_level" yaml:"access_level"`
	BroadcastKey    string `toml:"broadcast_key" yaml:"broadcast_key"`
	LocalizationKey string `toml:"localization_key" yaml:"localization_key"`
	DeviceToken     uint8  `toml:"device_token" yaml:"device_token"`
	LocationID      uint8  `toml:"location_id" yaml:"location_id"`
	ProfileID       uint8  `toml:"profile_id" yaml:"profile_id"`
	TapToToggle     bool   `toml:"tap_to_toggle" yaml:"tap_to_toggle"`
}

// BroadcastConfig tunes the advertisement loop.
type BroadcastConfig struct {
	Retries  int    `toml:"retries" yaml:"retries"`
	Interval string `toml:"interval" yaml:"interval"`
	Idle     bool   `toml:"idle" yaml:"idle"`
}

// LogConfig selects the log level and an optional rotating log file.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// CommandConfig is one command to broadcast.
type CommandConfig struct {
	// Type is "switch", "set_time" or "behaviour_settings".
	Type string `toml:"type" yaml:"type"`
	ID   uint8  `toml:"id" yaml:"id"`

	// Value is the switch value (0-100, 255 for smart on) or the
	// behaviour settings word. Ignored for set_time.
	Value uint32 `toml:"value" yaml:"value"`

	Retries int `toml:"retries" yaml:"retries"`
}

// SyncConfig describes the rule sets of a synchronization run against an
// emulated Crownstone.
type SyncConfig struct {
	Extended bool         `toml:"extended" yaml:"extended"`
	Remote   []RuleConfig `toml:"remote" yaml:"remote"`
	Local    []RuleConfig `toml:"local" yaml:"local"`
}

// RuleConfig is one behaviour.
type RuleConfig struct {
	Index   uint8 `toml:"index" yaml:"index"`
	Pending bool  `toml:"pending" yaml:"pending"`

	// Type is "switch", "twilight" or "smart_timer".
	Type      string `toml:"type" yaml:"type"`
	Intensity uint8  `toml:"intensity" yaml:"intensity"`
	Profile   uint8  `toml:"profile" yaml:"profile"`

	// Days lists weekdays as three-letter names. Empty means every day.
	Days []string `toml:"days" yaml:"days"`

	// From and Until are "HH:MM", "sunrise" or "sunset", optionally with a
	// signed offset such as "sunset-30m".
	From  string `toml:"from" yaml:"from"`
	Until string `toml:"until" yaml:"until"`

	// Presence is "ignore", "somebody_in_room", "nobody_in_room",
	// "somebody_in_sphere" or "nobody_in_sphere".
	Presence  string  `toml:"presence" yaml:"presence"`
	Locations []uint8 `toml:"locations" yaml:"locations"`
	Delay     string  `toml:"delay" yaml:"delay"`
}

// Config errors.
var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrInvalidConfig     = errors.New("config: invalid")
)

// loadConfig reads, defaults and validates a fleet file.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sphere.AccessLevel == "" {
		c.Sphere.AccessLevel = "member"
	}
	if c.Broadcast.Retries <= 0 {
		c.Broadcast.Retries = broadcast.DefaultRetries
	}
	if c.Broadcast.Interval == "" {
		c.Broadcast.Interval = broadcast.DefaultInterval.String()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 28
	}
}

// Validate checks every field that later stages convert.
func (c *Config) Validate() error {
	ec, err := c.EncoderConfig()
	if err != nil {
		return err
	}
	if _, err := broadcast.NewEncoder(ec); err != nil {
		return fmt.Errorf("%w: sphere: %w", ErrInvalidConfig, err)
	}
	if _, err := time.ParseDuration(c.Broadcast.Interval); err != nil {
		return fmt.Errorf("%w: broadcast.interval: %w", ErrInvalidConfig, err)
	}
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return err
	}
	for i, cmd := range c.Commands {
		if _, err := cmd.item(time.Time{}); err != nil {
			return fmt.Errorf("%w: commands[%d]: %w", ErrInvalidConfig, i, err)
		}
	}
	for i, r := range c.Sync.Remote {
		if r.Pending {
			return fmt.Errorf("%w: sync.remote[%d]: remote rules cannot be pending", ErrInvalidConfig, i)
		}
		if _, err := r.behaviour(); err != nil {
			return fmt.Errorf("%w: sync.remote[%d]: %w", ErrInvalidConfig, i, err)
		}
	}
	for i, r := range c.Sync.Local {
		if _, err := r.behaviour(); err != nil {
			return fmt.Errorf("%w: sync.local[%d]: %w", ErrInvalidConfig, i, err)
		}
	}
	return nil
}

// Interval returns the parsed broadcast interval.
func (c *Config) Interval() time.Duration {
	d, _ := time.ParseDuration(c.Broadcast.Interval)
	return d
}

// EncoderConfig converts the sphere section.
func (c *Config) EncoderConfig() (broadcast.EncoderConfig, error) {
	s := c.Sphere
	access, err := parseAccessLevel(s.AccessLevel)
	if err != nil {
		return broadcast.EncoderConfig{}, err
	}
	bk, err := hex.DecodeString(s.BroadcastKey)
	if err != nil || len(bk) != broadcast.BroadcastKeySize {
		return broadcast.EncoderConfig{}, fmt.Errorf("%w: sphere.broadcast_key must be %d hex bytes", ErrInvalidConfig, broadcast.BroadcastKeySize)
	}
	lk, err := hex.DecodeString(s.LocalizationKey)
	if err != nil || len(lk) < rc5.MinKeySize {
		return broadcast.EncoderConfig{}, fmt.Errorf("%w: sphere.localization_key must be at least %d hex bytes", ErrInvalidConfig, rc5.MinKeySize)
	}
	return broadcast.EncoderConfig{
		BroadcastKey:    bk,
		LocalizationKey: lk,
		SphereUID:       s.UID,
		AccessLevel:     access,
		DeviceToken:     s.DeviceToken,
		LocationID:      s.LocationID,
		ProfileID:       s.ProfileID,
		TapToToggle:     s.TapToToggle,
	}, nil
}

func parseAccessLevel(s string) (broadcast.AccessLevel, error) {
	switch strings.ToLower(s) {
	case "admin":
		return broadcast.AccessAdmin, nil
	case "member":
		return broadcast.AccessMember, nil
	case "basic":
		return broadcast.AccessBasic, nil
	}
	return 0, fmt.Errorf("%w: access level %q", ErrInvalidConfig, s)
}

// item converts a command, stamping set_time commands with now.
func (c CommandConfig) item(now time.Time) (broadcast.Item, error) {
	it := broadcast.Item{ID: c.ID, Retries: c.Retries}
	switch c.Type {
	case "switch":
		v := packet.SwitchValue(c.Value)
		if c.Value > 0xFF || !v.IsValid() {
			return it, fmt.Errorf("switch value %d", c.Value)
		}
		it.Type = broadcast.CommandSwitch
		it.Payload = v
	case "set_time":
		it.Type = broadcast.CommandSetTime
		it.Payload = packet.SetTime(uint32(now.Unix()))
	case "behaviour_settings":
		it.Type = broadcast.CommandBehaviourSettings
		it.Payload = packet.Uint32Payload(c.Value)
	default:
		return it, fmt.Errorf("command type %q", c.Type)
	}
	return it, nil
}

var ruleTypes = map[string]behaviour.Type{
	"switch":      behaviour.TypeSwitch,
	"twilight":    behaviour.TypeTwilight,
	"smart_timer": behaviour.TypeSmartTimer,
}

var presenceTypes = map[string]behaviour.PresenceType{
	"":                   behaviour.PresenceIgnore,
	"ignore":             behaviour.PresenceIgnore,
	"somebody_in_room":   behaviour.PresenceSomebodyInRoom,
	"nobody_in_room":     behaviour.PresenceNobodyInRoom,
	"somebody_in_sphere": behaviour.PresenceSomebodyInSphere,
	"nobody_in_sphere":   behaviour.PresenceNobodyInSphere,
}

var weekdays = map[string]behaviour.Days{
	"sun": behaviour.Sunday,
	"mon": behaviour.Monday,
	"tue": behaviour.Tuesday,
	"wed": behaviour.Wednesday,
	"thu": behaviour.Thursday,
	"fri": behaviour.Friday,
	"sat": behaviour.Saturday,
}

func (r RuleConfig) behaviour() (behaviour.Behaviour, error) {
	t, ok := ruleTypes[r.Type]
	if !ok {
		return behaviour.Behaviour{}, fmt.Errorf("rule type %q", r.Type)
	}
	b := behaviour.Behaviour{
		Type:         t,
		Intensity:    r.Intensity,
		ProfileIndex: r.Profile,
		ActiveDays:   behaviour.EveryDay,
	}
	if len(r.Days) > 0 {
		b.ActiveDays = 0
		for _, d := range r.Days {
			day, ok := weekdays[strings.ToLower(d)]
			if !ok {
				return b, fmt.Errorf("weekday %q", d)
			}
			b.ActiveDays |= day
		}
	}

	var err error
	if b.From, err = parseTimeOfDay(r.From); err != nil {
		return b, err
	}
	if b.Until, err = parseTimeOfDay(r.Until); err != nil {
		return b, err
	}

	p, ok := presenceTypes[r.Presence]
	if !ok {
		return b, fmt.Errorf("presence %q", r.Presence)
	}
	b.Presence.Type = p
	for _, loc := range r.Locations {
		if loc >= 64 {
			return b, fmt.Errorf("location %d", loc)
		}
		b.Presence.Locations |= 1 << loc
	}
	if r.Delay != "" {
		d, err := time.ParseDuration(r.Delay)
		if err != nil || d < 0 {
			return b, fmt.Errorf("delay %q", r.Delay)
		}
		b.Presence.DelaySeconds = uint32(d / time.Second)
	}

	return b, b.Validate()
}

// entry converts a rule into an assigned or pending store entry.
func (r RuleConfig) entry() (behaviour.Entry, error) {
	b, err := r.behaviour()
	if err != nil {
		return behaviour.Entry{}, err
	}
	index := r.Index
	if r.Pending {
		index = behaviour.Unassigned
	}
	return behaviour.NewEntry(index, b)
}

// parseTimeOfDay accepts "HH:MM", "sunrise", "sunset" and the latter two
// with a signed duration offset. Empty means midnight.
func parseTimeOfDay(s string) (behaviour.TimeOfDay, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return behaviour.TimeOfDay{Kind: behaviour.TimeClock}, nil
	}
	for _, anchor := range []struct {
		name string
		kind behaviour.TimeKind
	}{
		{"sunrise", behaviour.TimeSunrise},
		{"sunset", behaviour.TimeSunset},
	} {
		rest, ok := strings.CutPrefix(s, anchor.name)
		if !ok {
			continue
		}
		tod := behaviour.TimeOfDay{Kind: anchor.kind}
		if rest == "" {
			return tod, nil
		}
		d, err := time.ParseDuration(rest)
		if err != nil {
			return tod, fmt.Errorf("time %q: %w", s, err)
		}
		tod.Offset = int32(d / time.Second)
		return tod, nil
	}

	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return behaviour.TimeOfDay{}, fmt.Errorf("time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return behaviour.TimeOfDay{}, fmt.Errorf("time %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return behaviour.TimeOfDay{}, fmt.Errorf("time %q", s)
	}
	return behaviour.TimeOfDay{Kind: behaviour.TimeClock, Offset: int32(h*3600 + m*60)}, nil
}
