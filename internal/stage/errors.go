package stage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TransportError reports that an exchange with a stage endpoint could not
// complete: connection failure, DNS, timeout or cancellation.
type TransportError struct {
	Stage   Name
	URL     string
	Payload []byte
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure calling %s: %v", e.Stage, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StageRejectedError reports a response with a non-success status.
type StageRejectedError struct {
	Stage   Name
	URL     string
	Payload []byte
	Status  int
	Body    []byte
	// Service is the decoded error body when the stage sent one.
	Service *ServiceError
}

func (e *StageRejectedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: stage rejected request with status %d", e.Stage, e.Status)
	if e.Service != nil && e.Service.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Service.Message)
	} else if body := strings.TrimSpace(string(e.Body)); body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	return b.String()
}

// InvalidStageRequestError reports a single-stage invocation that cannot be
// issued. It is raised before any network call.
type InvalidStageRequestError struct {
	Stage   Name
	Missing Field
	Reason  string
}

func (e *InvalidStageRequestError) Error() string {
	if e.Missing != "" {
		return fmt.Sprintf("%s: missing required artifact %q", e.Stage, e.Missing)
	}
	return fmt.Sprintf("%s: invalid stage request: %s", e.Stage, e.Reason)
}

// MalformedResponseError reports a successful response that does not carry
// what the contract requires.
type MalformedResponseError struct {
	Stage   Name
	URL     string
	Payload []byte
	Field   Field
	Body    []byte
	Reason  string
}

func (e *MalformedResponseError) Error() string {
	if e.Field != "" && e.Reason == "" {
		return fmt.Sprintf("%s: response from %s is missing %q", e.Stage, e.URL, e.Field)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: response from %s has invalid %q: %s", e.Stage, e.URL, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: malformed response from %s: %s", e.Stage, e.URL, e.Reason)
}

// ServiceError is the error document returned by stage services.
type ServiceError struct {
	Message     string   `json:"error"`
	Type        string   `json:"error_type"`
	Details     string   `json:"details,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// DecodeServiceError parses body as a service error document.
// It returns nil when body does not have that shape.
func DecodeServiceError(body []byte) *ServiceError {
	var se ServiceError
	if err := json.Unmarshal(body, &se); err != nil {
		return nil
	}
	if se.Message == "" && se.Type == "" {
		return nil
	}
	return &se
}

// FailedStage returns the stage named by a pipeline error, if any.
func FailedStage(err error) (Name, bool) {
	switch e := err.(type) {
	case *TransportError:
		return e.Stage, true
	case *StageRejectedError:
		return e.Stage, true
	case *InvalidStageRequestError:
		return e.Stage, true
	case *MalformedResponseError:
		return e.Stage, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok && u.Unwrap() != nil {
		return FailedStage(u.Unwrap())
	}
	return "", false
}
