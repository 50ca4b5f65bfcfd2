package models

import (
	"encoding/json"
	"time"
)

// TransferRequest is what the user sends in the API call
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// TransferRecord is the immutable ledger row written for a completed transfer.
// Only the debit leg is recorded.
type TransferRecord struct {
	ID         string
	Amount     int64
	AccountNo  string
	InitiateTS time.Time
	CompleteTS time.Time
}

// AccountBalance is the source side of a transfer response.
type AccountBalance struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
}

// AccountRef is the destination side of a transfer response.
type AccountRef struct {
	ID string `json:"id"`
}

// TransferResult is returned to the caller once a transfer is committed
type TransferResult struct {
	ID               string         `json:"id"`
	From             AccountBalance `json:"from"`
	To               AccountRef     `json:"to"`
	Amount           int64          `json:"amount"`
	InitiateDatetime time.Time      `json:"initiate_datetime"`
	CompleteDatetime time.Time      `json:"complete_datetime"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// TransferAttempt is a transfer request body before its fields are type
// checked. Each field keeps the raw JSON value the caller sent.
type TransferAttempt struct {
	From   json.RawMessage `json:"from"`
	To     json.RawMessage `json:"to"`
	Amount json.RawMessage `json:"amount"`
}
