package config

import "time"

// HubConfig is the root configuration for a live hub instance.
type HubConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Database DBConfig       `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Hub      RealtimeConfig `yaml:"hub"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this hub.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins"` // Empty allows any origin
}

// DBConfig holds the PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
	Migrate  bool   `yaml:"migrate"` // Apply the embedded schema on startup
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	PrivateKeyPath string        `yaml:"private_key_path"` // RSA private key PEM used to sign and verify sessions
	Issuer         string        `yaml:"issuer"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	CookieName     string        `yaml:"cookie_name"`
}

// RealtimeConfig holds room hub and connection settings.
type RealtimeConfig struct {
	FanoutCapacity     int           `yaml:"fanout_capacity"`
	DirectQueueInitial int           `yaml:"direct_queue_initial"`
	DirectQueueMax     int           `yaml:"direct_queue_max"` // -1 = unbounded
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	MaxFrameBytes      int64         `yaml:"max_frame_bytes"`
	NameLookupTimeout  time.Duration `yaml:"name_lookup_timeout"`
	PersistTimeout     time.Duration `yaml:"persist_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
