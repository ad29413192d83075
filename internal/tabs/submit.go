package tabs

import "context"

// StatusSuccess is the status an endpoint reports for an accepted message.
const StatusSuccess = "success"

// Submission is an outbound message.
type Submission struct {
	AuthorName string `json:"user"`
	Content    string `json:"message"`
}

// Ack is the endpoint's reply.
type Ack struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

// Submitter delivers a submission to the remote endpoint. Implementations
// return an error only when no status could be obtained.
type Submitter interface {
	Submit(ctx context.Context, s Submission) (Ack, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, s Submission) (Ack, error)

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, s Submission) (Ack, error) {
	return f(ctx, s)
}
