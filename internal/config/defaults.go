package config

import "time"

// MinMaxFrameBytes fits a 2000 character message with every character sent
// as an escaped surrogate pair (12 bytes), plus room for the envelope.
const MinMaxFrameBytes = 2000*12 + 1024

// Default values for optional configuration fields.
const (
	DefaultAddr               = ":8080"
	DefaultReadHeaderTimeout  = 10 * time.Second
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultIssuer             = "codelab-live"
	DefaultSessionTTL         = 12 * time.Hour
	DefaultCookieName         = "codelab_session"
	DefaultFanoutCapacity     = 100
	DefaultDirectQueueInitial = 16
	DefaultDirectQueueMax     = 1024
	DefaultWriteTimeout       = 10 * time.Second
	DefaultMaxFrameBytes      = 32 * 1024
	DefaultNameLookupTimeout  = 2 * time.Second
	DefaultPersistTimeout     = 5 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

func (c *HubConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Auth defaults
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = DefaultIssuer
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = DefaultCookieName
	}

	// Hub defaults. DirectQueueMax keeps 0 only when set explicitly to -1.
	if c.Hub.FanoutCapacity == 0 {
		c.Hub.FanoutCapacity = DefaultFanoutCapacity
	}
	if c.Hub.DirectQueueInitial == 0 {
		c.Hub.DirectQueueInitial = DefaultDirectQueueInitial
	}
	switch {
	case c.Hub.DirectQueueMax == 0:
		c.Hub.DirectQueueMax = DefaultDirectQueueMax
	case c.Hub.DirectQueueMax < 0:
		c.Hub.DirectQueueMax = 0
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}
	if c.Hub.MaxFrameBytes == 0 {
		c.Hub.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.Hub.NameLookupTimeout == 0 {
		c.Hub.NameLookupTimeout = DefaultNameLookupTimeout
	}
	if c.Hub.PersistTimeout == 0 {
		c.Hub.PersistTimeout = DefaultPersistTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
