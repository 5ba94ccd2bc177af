package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB              string // connection string for the database
	NatsURL         string // URL of the NATS server carrying the target link
	WaitForServices string // duration to wait for other services to be ready
	LogLevel        string // sets the log level (zap log level values)
	LogFormat       string // text vs json
	LogConfig       string // path to log config file (zapfilter rules)
	DrillFile       string // path to the drill definition file
	StoreResults    bool   // if true, repeat summaries are persisted
	EnableTelemetry bool   // if true, metrics are exported
)
