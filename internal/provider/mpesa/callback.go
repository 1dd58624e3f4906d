package mpesa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/RemisonBarawa/Freelance-App/internal/provider"

	"github.com/shopspring/decimal"
)

var ErrInvalidCallback = errors.New("invalid callback format")

// STKCallbackRequest represents M-Pesa STK callback
type STKCallbackRequest struct {
	Body struct {
		StkCallback *STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        Code   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []struct {
			Name  string      `json:"Name"`
			Value interface{} `json:"Value"`
		} `json:"Item"`
	} `json:"CallbackMetadata"`
}

// ParseSTKCallback parses the push-payment callback body.
func ParseSTKCallback(payload []byte) (*provider.CallbackResult, error) {
	var callback STKCallbackRequest
	if err := decode(payload, &callback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	stk := callback.Body.StkCallback
	if stk == nil || stk.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrInvalidCallback)
	}

	resultCode := stk.ResultCode.String()
	result := &provider.CallbackResult{
		CorrelationID:     stk.CheckoutRequestID,
		SecondaryID:       stk.MerchantRequestID,
		ResultCode:        resultCode,
		ResultDescription: stk.ResultDesc,
		Outcome:           Classify(resultCode),
		Raw:               rawSection(payload, "Body", "stkCallback"),
	}

	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			result.Amount = decimalValue(item.Value)
		case "MpesaReceiptNumber":
			result.ReceiptNumber = stringValue(item.Value)
		case "PhoneNumber":
			result.PhoneNumber = stringValue(item.Value)
		case "TransactionDate":
			result.TransactionDate = stringValue(item.Value)
		}
	}

	return result, nil
}

// B2CCallbackRequest represents the B2C result and queue timeout envelope.
type B2CCallbackRequest struct {
	Result *struct {
		ResultType               Code   `json:"ResultType"`
		ResultCode               Code   `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
		ResultParameters         struct {
			ResultParameter []struct {
				Key   string      `json:"Key"`
				Value interface{} `json:"Value"`
			} `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// ParseB2CResult parses the payout result callback. Either ConversationID or
// OriginatorConversationID is enough to match it.
func ParseB2CResult(payload []byte) (*provider.CallbackResult, error) {
	var callback B2CCallbackRequest
	if err := decode(payload, &callback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	r := callback.Result
	if r == nil || (r.ConversationID == "" && r.OriginatorConversationID == "") {
		return nil, fmt.Errorf("%w: missing Result.ConversationID and OriginatorConversationID", ErrInvalidCallback)
	}

	resultCode := r.ResultCode.String()
	result := &provider.CallbackResult{
		CorrelationID:     r.ConversationID,
		SecondaryID:       r.OriginatorConversationID,
		ResultCode:        resultCode,
		ResultDescription: r.ResultDesc,
		Outcome:           Classify(resultCode),
		ReceiptNumber:     r.TransactionID,
		Raw:               rawSection(payload, "Result"),
	}

	for _, param := range r.ResultParameters.ResultParameter {
		switch param.Key {
		case "TransactionAmount":
			result.Amount = decimalValue(param.Value)
		case "TransactionReceipt":
			if v := stringValue(param.Value); v != "" {
				result.ReceiptNumber = v
			}
		case "ReceiverPartyPublicName":
			// "254708374149 - John Doe"
			name := stringValue(param.Value)
			if i := strings.Index(name, " "); i > 0 {
				name = name[:i]
			}
			result.PhoneNumber = name
		case "TransactionCompletedDateTime":
			result.TransactionDate = stringValue(param.Value)
		}
	}

	return result, nil
}

// ParseB2CTimeout parses a queue timeout notification. The gateway gave up on
// the request, so it always reads as a failure.
func ParseB2CTimeout(payload []byte) (*provider.CallbackResult, error) {
	result, err := ParseB2CResult(payload)
	if err != nil {
		return nil, err
	}
	result.Outcome = provider.OutcomeFailed
	if result.ResultDescription == "" {
		result.ResultDescription = "payout request timed out in provider queue"
	}
	return result, nil
}

func decode(payload []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	return dec.Decode(v)
}

// rawSection extracts the object at path for storage in metadata, falling
// back to the whole body.
func rawSection(payload []byte, path ...string) map[string]interface{} {
	var root map[string]interface{}
	if err := decode(payload, &root); err != nil {
		return nil
	}
	cur := root
	for _, key := range path {
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			return root
		}
		cur = next
	}
	return cur
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func decimalValue(v interface{}) decimal.Decimal {
	s := stringValue(v)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
