package main

import "time"

type Config struct {
	Host              string        `env:"HOST,default=0.0.0.0"`
	Port              int           `env:"PORT,default=8080"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE,default=256"`
	RequireAuth       bool          `env:"REQUIRE_AUTH,default=false"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	TokenSecret       string        `env:"TOKEN_SECRET,required=true"`
	ModerationEnabled bool          `env:"MODERATION_ENABLED,default=true"`
	ModerationMask    string        `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
}

// maskRune narrows the configured replacement to a single character.
func (c Config) maskRune() (rune, error) {
	r := []rune(c.ModerationMask)
	if len(r) != 1 {
		return 0, errSingleMaskChar
	}
	return r[0], nil
}
