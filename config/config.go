// Package config loads master/transport settings from an INI file.
package config

import (
	"time"

	"gopkg.in/ini.v1"
)

// Config is the set of knobs a properad process needs before it can
// construct a Master: which port to open, at what baudrate, how long to
// wait for a response, and how much wire traffic to log.
type Config struct {
	Port            string
	Baudrate        int
	ASCIIMode       bool
	ResponseTimeout time.Duration
	DumpLevel       int
	CataloguePath   string
	RedisAddr       string
	RedisChannel    string
}

// defaults mirror the Propar master's own defaults.
func defaults() Config {
	return Config{
		Port:            "/dev/ttyUSB0",
		Baudrate:        38400,
		ASCIIMode:       false,
		ResponseTimeout: 500 * time.Millisecond,
		DumpLevel:       0,
	}
}

// Load reads path as an INI file with a single [master] section and an
// optional [broadcast] section, falling back to the Propar defaults for
// any key that's absent.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	cfg := defaults()

	master := f.Section("master")
	cfg.Port = master.Key("port").MustString(cfg.Port)
	cfg.Baudrate = master.Key("baudrate").MustInt(cfg.Baudrate)
	cfg.ASCIIMode = master.Key("ascii_mode").MustBool(cfg.ASCIIMode)
	cfg.ResponseTimeout = time.Duration(master.Key("response_timeout_ms").MustInt(int(cfg.ResponseTimeout/time.Millisecond))) * time.Millisecond
	cfg.DumpLevel = master.Key("dump_level").MustInt(cfg.DumpLevel)
	cfg.CataloguePath = master.Key("catalogue_path").MustString("")

	broadcast := f.Section("broadcast")
	cfg.RedisAddr = broadcast.Key("redis_addr").MustString("")
	cfg.RedisChannel = broadcast.Key("redis_channel").MustString("propar:broadcast")

	return &cfg, nil
}
