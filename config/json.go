package config

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fileConfig struct {
	ContactPoints           []string `json:"contact_points"`
	Port                    int      `json:"port"`
	NumConnectionsPerHost   int      `json:"num_connections_per_host"`
	QueueSize               int      `json:"queue_size_io"`
	ProcessorCount          int      `json:"thread_count_io"`
	Keyspace                string   `json:"keyspace"`
	PrepareOnAllHosts       *bool    `json:"prepare_on_all_hosts"`
	MaxSchemaWaitTimeMs     int      `json:"max_schema_wait_time_ms"`
	RandomizedContactPoints *bool    `json:"randomized_contact_points"`
	ConnectTimeoutMs        int      `json:"connect_timeout_ms"`
}

// FromJSON reads the declarative subset of the configuration from a
// JSON file and returns the matching options.
func FromJSON(path string) ([]Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, err
	}

	var opts []Option
	if len(fc.ContactPoints) > 0 {
		opts = append(opts, WithContactPoints(fc.ContactPoints...))
	}
	if fc.Port > 0 {
		opts = append(opts, WithPort(fc.Port))
	}
	if fc.NumConnectionsPerHost > 0 {
		opts = append(opts, WithNumConnectionsPerHost(fc.NumConnectionsPerHost))
	}
	if fc.QueueSize > 0 {
		opts = append(opts, WithQueueSize(fc.QueueSize))
	}
	if fc.ProcessorCount > 0 {
		opts = append(opts, WithProcessorCount(fc.ProcessorCount))
	}
	if fc.Keyspace != "" {
		opts = append(opts, WithKeyspace(fc.Keyspace))
	}
	if fc.PrepareOnAllHosts != nil {
		opts = append(opts, WithPrepareOnAllHosts(*fc.PrepareOnAllHosts))
	}
	if fc.MaxSchemaWaitTimeMs > 0 {
		opts = append(opts, WithMaxSchemaWaitTime(time.Duration(fc.MaxSchemaWaitTimeMs)*time.Millisecond))
	}
	if fc.RandomizedContactPoints != nil {
		opts = append(opts, WithRandomizedContactPoints(*fc.RandomizedContactPoints))
	}
	if fc.ConnectTimeoutMs > 0 {
		opts = append(opts, WithConnectTimeout(time.Duration(fc.ConnectTimeoutMs)*time.Millisecond))
	}

	return opts, nil
}
