package rabbitmq

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/cloudresty/go-env"
)

// EnvConfig holds the broker settings that can be loaded from environment variables
type EnvConfig struct {
	Username string   `env:"RABBITMQ_USERNAME,default=guest"`
	Password string   `env:"RABBITMQ_PASSWORD,default=guest"`
	Hosts    []string `env:"RABBITMQ_HOSTS,default=localhost:5672"`
	VHost    string   `env:"RABBITMQ_VHOST,default=/"`

	Protocol    string `env:"RABBITMQ_PROTOCOL,default=amqp"` // amqp or amqps
	TLSEnabled  bool   `env:"RABBITMQ_TLS_ENABLED,default=false"`
	TLSInsecure bool   `env:"RABBITMQ_TLS_INSECURE,default=false"`

	ConnectionName string        `env:"RABBITMQ_CONNECTION_NAME,default=order-saga"`
	Heartbeat      time.Duration `env:"RABBITMQ_HEARTBEAT,default=10s"`
	DialTimeout    time.Duration `env:"RABBITMQ_DIAL_TIMEOUT,default=30s"`

	// Queue-consume retry while a queue is locked by another consumer
	ConsumeRetryInitialDelay time.Duration `env:"RABBITMQ_CONSUME_RETRY_INITIAL_DELAY,default=1s"`
	ConsumeRetryMaxDelay     time.Duration `env:"RABBITMQ_CONSUME_RETRY_MAX_DELAY,default=30s"`
	ConsumeRetryMaxAttempts  int           `env:"RABBITMQ_CONSUME_RETRY_MAX_ATTEMPTS,default=10"`

	PublisherConfirmationTimeout time.Duration `env:"RABBITMQ_PUBLISHER_CONFIRMATION_TIMEOUT,default=5s"`

	// Upper bound for one handler run; zero disables it
	MessageTimeout time.Duration `env:"RABBITMQ_MESSAGE_TIMEOUT,default=60s"`
}

// LoadEnvConfig reads EnvConfig from the environment. An empty prefix uses the
// RABBITMQ_ names as declared.
func LoadEnvConfig(prefix string) (*EnvConfig, error) {
	var envConfig EnvConfig
	var err error

	if prefix != "" {
		err = env.Bind(&envConfig, env.BindingOptions{
			Tag:      "env",
			Prefix:   prefix,
			Required: false,
		})
	} else {
		err = env.Bind(&envConfig, env.DefaultBindingOptions())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment configuration: %w", err)
	}

	return &envConfig, nil
}

// BuildAMQPURLs constructs one AMQP URL per configured host, in failover order
func (e *EnvConfig) BuildAMQPURLs() []string {
	if len(e.Hosts) == 0 {
		return nil
	}

	protocol := e.Protocol
	if e.TLSEnabled {
		protocol = "amqps"
	}

	urls := make([]string, 0, len(e.Hosts))
	for _, host := range e.Hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if !strings.Contains(host, ":") {
			host += ":5672"
		}
		urls = append(urls, buildURL(protocol, e.Username, e.Password, host, e.VHost))
	}

	return urls
}

// ConsumeRetryPolicy returns the RESOURCE_LOCKED retry policy described by the environment
func (e *EnvConfig) ConsumeRetryPolicy() RetryPolicy {
	return &ExponentialBackoff{
		InitialDelay: e.ConsumeRetryInitialDelay,
		MaxDelay:     e.ConsumeRetryMaxDelay,
		Multiplier:   2.0,
		MaxAttempts:  e.ConsumeRetryMaxAttempts,
	}
}

// FromEnv creates a client option that loads configuration from environment variables
func FromEnv() Option {
	return FromEnvWithPrefix("")
}

// FromEnvWithPrefix creates a client option that loads configuration from environment
// variables with a custom prefix
func FromEnvWithPrefix(prefix string) Option {
	return func(config *clientConfig) error {
		envConfig, err := LoadEnvConfig(prefix)
		if err != nil {
			return err
		}
		return applyEnvConfigToClient(config, envConfig)
	}
}

func applyEnvConfigToClient(config *clientConfig, envConfig *EnvConfig) error {
	urls := envConfig.BuildAMQPURLs()
	if len(urls) == 0 {
		return fmt.Errorf("no RabbitMQ hosts configured")
	}

	opts := []Option{
		WithHosts(envConfig.Hosts...),
		WithCredentials(envConfig.Username, envConfig.Password),
		WithVHost(envConfig.VHost),
		WithConnectionName(envConfig.ConnectionName),
		WithHeartbeat(envConfig.Heartbeat),
		WithDialTimeout(envConfig.DialTimeout),
	}
	if envConfig.TLSEnabled {
		opts = append(opts, WithTLS(&tls.Config{InsecureSkipVerify: envConfig.TLSInsecure}))
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return err
		}
	}
	config.URLs = urls
	return nil
}

// buildURL joins the URL parts, mapping the default vhost "/" to an empty path
func buildURL(protocol, username, password, host, vhost string) string {
	switch {
	case vhost == "" || vhost == "/":
		vhost = ""
	case vhost[0] != '/':
		vhost = "/" + vhost
	}
	return fmt.Sprintf("%s://%s:%s@%s%s", protocol, username, password, host, vhost)
}
