package config

import (
	"errors"
	"fmt"
	"log/slog"
)

// Validate checks that all required fields are set and values are valid.
func (c *HubConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Auth.PrivateKeyPath == "" {
		return errors.New("auth.private_key_path is required")
	}
	if c.Auth.SessionTTL < 0 {
		return errors.New("auth.session_ttl must be >= 0")
	}

	if c.Hub.FanoutCapacity < 1 {
		return errors.New("hub.fanout_capacity must be >= 1")
	}
	if c.Hub.DirectQueueInitial < 1 {
		return errors.New("hub.direct_queue_initial must be >= 1")
	}
	if c.Hub.DirectQueueMax != 0 && c.Hub.DirectQueueMax < c.Hub.DirectQueueInitial {
		return fmt.Errorf("hub.direct_queue_max (%d) cannot be less than direct_queue_initial (%d)",
			c.Hub.DirectQueueMax, c.Hub.DirectQueueInitial)
	}
	if c.Hub.MaxFrameBytes < MinMaxFrameBytes {
		return fmt.Errorf("hub.max_frame_bytes must be >= %d", MinMaxFrameBytes)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// SlogLevel parses the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q is invalid", l.Level)
	}
	return level, nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
