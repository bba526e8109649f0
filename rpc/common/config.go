package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a dDoc server.
type ServerConfig struct {
	// names of the databases hosted by the server
	Databases []string

	// HTTP api settings
	Endpoint      string
	TimeoutSecond int64

	// persistence (empty DataDir = in memory only)
	DataDir                 string
	SnapshotIntervalSeconds int64

	// views
	ViewsFile     string // yaml view definitions, reloaded on change
	IndexWorkers  int    // concurrent map evaluations per view engine
	EagerIndexing bool   // index after every write instead of on query

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Databases
	addSection("Databases")
	for i, name := range c.Databases {
		addField(strconv.Itoa(i), name)
	}

	// Views
	addSection("Views")
	if c.ViewsFile != "" {
		addField("Definitions", c.ViewsFile)
	} else {
		addField("Definitions", "-")
	}
	addField("Index Workers", strconv.Itoa(c.IndexWorkers))
	addField("Eager Indexing", fmt.Sprintf("%t", c.EagerIndexing))

	// Storage
	addSection("Storage")
	if c.DataDir != "" {
		addField("Data Directory", c.DataDir)
		addField("Snapshot Interval", fmt.Sprintf("%d sec", c.SnapshotIntervalSeconds))
	} else {
		addField("Data Directory", "- (in memory)")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
