package api

// Result is the uniform status/message envelope exposed to transport layers
// (HTTP controllers, CLI). The Engine itself returns (value, error); Result
// exists so every upward-facing operation can serialize the same shape.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	// Kind carries the error classification on failures; empty on success.
	Kind ErrorKind `json:"kind,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"

	// StatusPartial marks bulk operations that succeeded for some targets
	// and failed for others (for example RemindWorkflow).
	StatusPartial = "partial"
)

// OK wraps data in a success Result.
func OK(data any) Result {
	return Result{Status: StatusSuccess, Message: "ok", Data: data}
}

// Fail converts an error into an error Result with a display-safe message.
func Fail(err error) Result {
	return Result{Status: StatusError, Message: SafeMessage(err), Kind: KindOf(err)}
}

// PartialResult wraps a bulk outcome that was only partially delivered.
func PartialResult(message string, data any) Result {
	return Result{Status: StatusPartial, Message: message, Data: data}
}
