package queue

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DriverNATS selects the NATS JetStream backend.
	DriverNATS = "nats"
	// DriverRedis selects the Redis Streams backend.
	DriverRedis = "redis"
	// DriverKafka selects the Kafka backend.
	DriverKafka = "kafka"
	// DriverMemory selects the in-process backend.
	DriverMemory = "memory"
)

// ErrUnknownDriver indicates an unsupported queue driver.
var ErrUnknownDriver = errors.New("pkgqueue: unknown driver")

// FactoryOptions groups config for supported queue backends.
type FactoryOptions struct {
	// NATS provides configuration for the NATS driver.
	NATS NATSConfig
	// Redis provides configuration for the Redis Streams driver.
	Redis RedisConfig
	// Kafka provides configuration for the Kafka driver.
	Kafka KafkaConfig
}

// NewFromDriver constructs a Gateway implementation by driver name.
func NewFromDriver(driver string, opts FactoryOptions) (Gateway, error) {
	switch strings.TrimSpace(driver) {
	case DriverNATS:
		return NewNATS(opts.NATS)
	case DriverRedis:
		return NewRedis(opts.Redis)
	case DriverKafka:
		return NewKafka(opts.Kafka)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
