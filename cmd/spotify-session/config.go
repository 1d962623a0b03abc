package main

import "time"

// Config holds CLI configuration loaded from environment variables
type Config struct {
	ClientID     string        `envconfig:"SPOTIFY_CLIENT_ID" required:"true"`
	ClientSecret string        `envconfig:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI  string        `envconfig:"SPOTIFY_REDIRECT_URI" default:"http://127.0.0.1:8888/callback"`
	Scopes       []string      `envconfig:"SPOTIFY_SCOPES"`
	TokenFile    string        `envconfig:"TOKEN_FILE"`
	TokenSecret  string        `envconfig:"TOKEN_SECRET"`
	RedisURL     string        `envconfig:"REDIS_URL"`
	AuthTimeout  time.Duration `envconfig:"AUTH_TIMEOUT" default:"5m"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}
