package config

import (
	"github.com/spf13/viper"
)

// Viper key names read by FromViper.
const (
	KeyMaxConnections  = "client.max_connections"
	KeyUserAgent       = "client.user_agent"
	KeyIdleTimeout     = "client.idle_timeout"
	KeyConnTimeout     = "client.conn_timeout"
	KeyContinueWait    = "client.continue_wait_max"
	KeyMaxPipeline     = "client.max_pipeline"
	KeyCACertsPath     = "client.ca_certs"
)

// FromViper builds a Config from v, falling back to New's defaults for
// any key that is unset, the way nabbar-golib's components read their
// own namespaced keys out of a shared *viper.Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	c := New()
	if v == nil {
		return c, nil
	}

	if v.IsSet(KeyMaxConnections) {
		c.MaxConnections = v.GetInt(KeyMaxConnections)
	}
	if v.IsSet(KeyUserAgent) {
		c.UserAgent = v.GetString(KeyUserAgent)
	}
	if v.IsSet(KeyIdleTimeout) {
		c.IdleTimeout = v.GetDuration(KeyIdleTimeout)
	}
	if v.IsSet(KeyConnTimeout) {
		c.ConnTimeout = v.GetDuration(KeyConnTimeout)
	}
	if v.IsSet(KeyContinueWait) {
		c.ContinueWaitMax = v.GetDuration(KeyContinueWait)
	}
	if v.IsSet(KeyMaxPipeline) {
		c.MaxPipeline = v.GetInt(KeyMaxPipeline)
	}
	if path := v.GetString(KeyCACertsPath); path != "" {
		pool, err := LoadCACerts(path)
		if err != nil {
			return nil, err
		}
		c.CACerts = pool
	}

	return c, nil
}
