package config

const (
	// DefaultNodePort is the port the node listens on.
	DefaultNodePort = 4567
	// DefaultRelayGrace bounds how long the telemetry relay may take to stop.
	DefaultRelayGrace = "3s"
	// DefaultExecutionSettle bounds how long queued telemetry may drain.
	DefaultExecutionSettle = "2s"
	// DefaultRelayBuffer is the telemetry channel capacity.
	DefaultRelayBuffer = 1024
	// DefaultUnitWorkers caps concurrently running remote units.
	DefaultUnitWorkers = 4
	// DefaultRequestTimeout applies to every test case request.
	DefaultRequestTimeout = "30s"
	// DefaultProviderTimeout applies to every live provider query.
	DefaultProviderTimeout = "10s"
)
