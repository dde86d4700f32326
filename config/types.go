package config

// Node selects storage and the administrative owner of every engine.
type Node struct {
	DataDir string `toml:"DataDir" yaml:"dataDir"`
	// Backend is one of leveldb, bolt or memory.
	Backend string `toml:"Backend" yaml:"backend"`
	Owner   string `toml:"Owner" yaml:"owner"`
}

// RPC configures the JSON-RPC listener and its caller policy.
type RPC struct {
	ListenAddress string `toml:"ListenAddress" yaml:"listen"`
	JWTSecret     string `toml:"JWTSecret" yaml:"jwtSecret"`
	// JWTSecretEnv names an environment variable overriding JWTSecret.
	JWTSecretEnv       string  `toml:"JWTSecretEnv" yaml:"jwtSecretEnv"`
	JWTIssuer          string  `toml:"JWTIssuer" yaml:"jwtIssuer"`
	RequestsPerSecond  float64 `toml:"RequestsPerSecond" yaml:"requestsPerSecond"`
	Burst              int     `toml:"Burst" yaml:"burst"`
	AnonymousReads     bool    `toml:"AnonymousReads" yaml:"anonymousReads"`
	ReadTimeoutSeconds int     `toml:"ReadTimeoutSeconds" yaml:"readTimeoutSeconds"`
	StreamHistory      int     `toml:"StreamHistory" yaml:"streamHistory"`
}

// Params mirrors params.Constants with amounts as decimal base-unit strings.
type Params struct {
	StockUnit       uint64 `toml:"StockUnit" yaml:"stockUnit"`
	MinProductPrice string `toml:"MinProductPrice" yaml:"minProductPrice"`
	MaxProductPrice string `toml:"MaxProductPrice" yaml:"maxProductPrice"`
	BatchLimit      uint64 `toml:"BatchLimit" yaml:"batchLimit"`
	DefaultTimeout  uint64 `toml:"DefaultTimeout" yaml:"defaultTimeout"`
	EscrowTimeout   uint64 `toml:"EscrowTimeout" yaml:"escrowTimeout"`
	ArbitrationFee  string `toml:"ArbitrationFee" yaml:"arbitrationFee"`
}

// Allocation credits an account at genesis.
type Allocation struct {
	Address string `toml:"Address" yaml:"address"`
	Balance string `toml:"Balance" yaml:"balance"`
}

// Participant is granted roles (and optionally verified) at genesis.
type Participant struct {
	Address  string   `toml:"Address" yaml:"address"`
	Roles    []string `toml:"Roles" yaml:"roles"`
	Verified bool     `toml:"Verified" yaml:"verified"`
}

// Genesis seeds a fresh data directory.
type Genesis struct {
	Allocations  []Allocation  `toml:"Allocations" yaml:"allocations"`
	Arbitrators  []string      `toml:"Arbitrators" yaml:"arbitrators"`
	Participants []Participant `toml:"Participants" yaml:"participants"`
}

// Logging controls the structured logger.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
}

// Telemetry controls OTLP export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}

// Keeper schedules the expiry sweep.
type Keeper struct {
	Enabled  bool   `toml:"Enabled" yaml:"enabled"`
	Schedule string `toml:"Schedule" yaml:"schedule"`
	// Operator is the address the sweep is submitted as.
	Operator string `toml:"Operator" yaml:"operator"`
}
