package types

// Telemetry metric names. CloudWatch and Prometheus backends share them.
const (
	// Metric Names
	MetricAlertOutcome    = "AlertOutcome"
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricSessionLogin    = "SessionLogin"
	MetricCycleDuration   = "CycleDuration"

	// Dimension Keys
	DimOutcome = "Outcome"
	DimChannel = "Channel"
	DimSource  = "Source"

	// Metric Namespace
	MetricNamespace = "AlertStream"
)
