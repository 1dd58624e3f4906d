package mpesa

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/RemisonBarawa/Freelance-App/internal/provider"

	"github.com/shopspring/decimal"
)

const ResultCodeSuccess = "0"

// Result codes that mean the payer has not finished yet.
var pendingCodes = map[string]struct{}{
	"1032":         {},
	"4999":         {},
	"500.001.1001": {},
}

// IsPending reports whether code is a "still processing" sentinel.
func IsPending(code string) bool {
	_, ok := pendingCodes[strings.TrimSpace(code)]
	return ok
}

// Classify maps a result code to its ledger outcome.
func Classify(code string) provider.Outcome {
	code = strings.TrimSpace(code)
	switch {
	case code == ResultCodeSuccess:
		return provider.OutcomeSuccess
	case IsPending(code):
		return provider.OutcomePending
	default:
		return provider.OutcomeFailed
	}
}

// Code accepts result codes sent either as JSON strings or numbers. The
// gateway is not consistent between endpoints.
type Code string

func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

func (c Code) String() string {
	return string(c)
}

// IsZero reports a "0" success code.
func (c Code) IsZero() bool {
	return string(c) == ResultCodeSuccess
}

// wholeUnits rounds to the whole shillings the gateway accepts.
func wholeUnits(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}
