package rabbitmq

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"
)

// Option represents a functional option for configuring the Client
type Option func(*clientConfig) error

// WithCredentials sets the username and password
func WithCredentials(username, password string) Option {
	return func(config *clientConfig) error {
		config.Username = username
		config.Password = password
		return nil
	}
}

// WithHosts sets the broker hosts tried in order when dialing.
// A host without a port gets 5672.
func WithHosts(hosts ...string) Option {
	return func(config *clientConfig) error {
		if len(hosts) == 0 {
			return fmt.Errorf("at least one host must be provided")
		}

		normalized := make([]string, 0, len(hosts))
		for _, host := range hosts {
			host = strings.TrimSpace(host)
			if host == "" {
				return fmt.Errorf("host cannot be empty")
			}
			if !strings.Contains(host, ":") {
				host += ":5672"
			}
			normalized = append(normalized, host)
		}

		config.Hosts = normalized
		return nil
	}
}

// WithVHost sets the virtual host
func WithVHost(vhost string) Option {
	return func(config *clientConfig) error {
		config.VHost = vhost
		return nil
	}
}

// WithTLS enables amqps with the given TLS configuration
func WithTLS(tlsConfig *tls.Config) Option {
	return func(config *clientConfig) error {
		config.TLS = tlsConfig
		return nil
	}
}

// WithConnectionName sets the connection name shown in the management UI
func WithConnectionName(name string) Option {
	return func(config *clientConfig) error {
		config.ConnectionName = name
		return nil
	}
}

// WithHeartbeat sets the heartbeat interval
func WithHeartbeat(duration time.Duration) Option {
	return func(config *clientConfig) error {
		if duration < 0 {
			return fmt.Errorf("heartbeat duration cannot be negative")
		}
		config.Heartbeat = duration
		return nil
	}
}

// WithDialTimeout sets the connection dial timeout
func WithDialTimeout(timeout time.Duration) Option {
	return func(config *clientConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("dial timeout must be positive")
		}
		config.DialTimeout = timeout
		return nil
	}
}

// WithLogger sets the logger used by the client and everything created from it
func WithLogger(logger Logger) Option {
	return func(config *clientConfig) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		config.Logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) Option {
	return func(config *clientConfig) error {
		if metrics == nil {
			return fmt.Errorf("metrics collector cannot be nil")
		}
		config.Metrics = metrics
		return nil
	}
}

// WithTracing sets the tracer
func WithTracing(tracer Tracer) Option {
	return func(config *clientConfig) error {
		if tracer == nil {
			return fmt.Errorf("tracer cannot be nil")
		}
		config.Tracer = tracer
		return nil
	}
}
