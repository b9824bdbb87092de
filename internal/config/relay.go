package config

import "time"

// RelayConfig holds the relay client's connection and retry settings.
type RelayConfig struct {
	DefaultRelays    []string      `mapstructure:"DEFAULT_RELAYS"     json:"default_relays"     validate:"required,min=1,dive,required,url"`
	DevRelays        []string      `mapstructure:"DEV_RELAYS"         json:"dev_relays"         validate:"omitempty,dive,required,url"`
	ConnectTimeout   time.Duration `mapstructure:"CONNECT_TIMEOUT"    json:"connect_timeout"    validate:"required,timeout_duration"`
	PublishTimeout   time.Duration `mapstructure:"PUBLISH_TIMEOUT"    json:"publish_timeout"    validate:"required,timeout_duration"`
	QueryTimeout     time.Duration `mapstructure:"QUERY_TIMEOUT"      json:"query_timeout"      validate:"required,timeout_duration"`
	WelcomeRetry     RetryConfig   `mapstructure:"WELCOME_RETRY"      json:"welcome_retry"      validate:"required"`
}

// RetryConfig bounds a fixed-delay retry budget, used for welcome delivery
// (default: 5 attempts, 1 second apart).
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"MAX_ATTEMPTS" json:"max_attempts" validate:"required,min=1,max=100"`
	Delay       time.Duration `mapstructure:"DELAY"        json:"delay"        validate:"required,timeout_duration"`
}
