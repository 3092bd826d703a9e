// Package backend abstracts the external process that performs asset transfers.
package backend

import "context"

// TransferRequest is one backend invocation. ArtifactPath is unique per invocation.
// IdempotencyKey is stable across every attempt for one order, so a backend can drop a
// retry of a transfer it already broadcast.
type TransferRequest struct {
	OrderID        string
	Recipient      string
	UnitAmount     int64
	ArtifactPath   string
	IdempotencyKey string
	Credential     []byte
}

// TransferBackend performs transfers and reports the wallet balance.
// Transfer must write its proof-of-transfer artifact to req.ArtifactPath on success.
type TransferBackend interface {
	Transfer(ctx context.Context, req TransferRequest) error
	Balance(ctx context.Context, credential []byte) (int64, error)
}
