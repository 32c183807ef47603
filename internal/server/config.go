package server

import "time"

type Config struct {
	Addr        string
	JWTIssuer   string
	TokenTTL    time.Duration
	UnlockRate  float64 // attempts per second per client
	UnlockBurst int
	MetricsPath string
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":7474"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "alohomora"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 15 * time.Minute
	}
	if c.UnlockRate <= 0 {
		c.UnlockRate = 0.2
	}
	if c.UnlockBurst <= 0 {
		c.UnlockBurst = 5
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
}
