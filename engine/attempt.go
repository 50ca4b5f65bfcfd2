package engine

import (
	"encoding/json"
	"strconv"

	"github.com/yashasviy/guarded-transfers-api/models"
)

// rawText is the textual form of a JSON value: strings unquoted, anything
// else as sent. Missing and null values are empty.
func rawText(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return string(v)
}

// parseAttempt type checks a raw attempt. Accounts must be JSON strings and
// the amount a JSON integer.
func parseAttempt(a models.TransferAttempt) (models.TransferRequest, bool) {
	var req models.TransferRequest
	if err := json.Unmarshal(a.From, &req.From); err != nil {
		return req, false
	}
	if err := json.Unmarshal(a.To, &req.To); err != nil {
		return req, false
	}
	amount, err := strconv.ParseInt(string(a.Amount), 10, 64)
	if err != nil {
		return req, false
	}
	req.Amount = amount
	return req, valid(req)
}

func valid(req models.TransferRequest) bool {
	return req.From != "" && req.To != "" && req.Amount > 0
}
