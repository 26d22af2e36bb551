package observability

// Span names.
const (
	SpanSend     = "relay.send"
	SpanPoll     = "relay.poll"
	SpanExecute  = "relay.execute"
	SpanWorkflow = "relay.workflow"
	SpanToolCall = "relay.tool_call"
	SpanHTTP     = "http.request"
)

// Span and metric attribute keys.
const (
	AttrAgentName    = "relay.agent.name"
	AttrTaskID       = "relay.task.id"
	AttrContextID    = "relay.context.id"
	AttrTaskState    = "relay.task.state"
	AttrEventCount   = "relay.event_count"
	AttrPollAttempts = "relay.poll.attempts"
	AttrFingerprint  = "relay.fingerprint"
	AttrToolName     = "relay.tool.name"
	AttrMode         = "relay.mode"
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
)

// Defaults.
const (
	DefaultServiceName  = "agentrelay"
	DefaultNamespace    = "agentrelay"
	DefaultMetricsPath  = "/metrics"
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultSamplingRate = 1.0
)
