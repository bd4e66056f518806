package core

// Protocol turns operations into requests and raw responses into records.
type Protocol interface {
	// Version returns the API version prefix, e.g. "v1".
	Version() string

	// BuildRequest constructs the request for op from operation-specific params.
	BuildRequest(op Operation, params Params) (*Request, error)

	// ParseResponse decodes a 2xx body into the record type of op.
	ParseResponse(op Operation, body []byte) (any, error)

	// SupportedOperations returns the operations this protocol can build.
	SupportedOperations() []Operation
}
