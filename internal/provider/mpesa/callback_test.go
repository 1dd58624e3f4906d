package mpesa

import (
	"testing"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/provider"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stkSuccess = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 5000.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

const stkCancelled = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 2001,
      "ResultDesc": "The initiator information is invalid."
    }
  }
}`

const b2cSuccess = `{
  "Result": {
    "ResultType": 0,
    "ResultCode": 0,
    "ResultDesc": "The service request is processed successfully.",
    "OriginatorConversationID": "10571-7910404-1",
    "ConversationID": "AG_20191219_00004e48cf7e3533f581",
    "TransactionID": "NLJ41HAY6Q",
    "ResultParameters": {
      "ResultParameter": [
        {"Key": "TransactionAmount", "Value": 4500},
        {"Key": "TransactionReceipt", "Value": "NLJ41HAY6Q"},
        {"Key": "ReceiverPartyPublicName", "Value": "254708374149 - John Doe"},
        {"Key": "TransactionCompletedDateTime", "Value": "19.12.2019 11:45:50"}
      ]
    }
  }
}`

func TestParseSTKCallback_Success(t *testing.T) {
	res, err := ParseSTKCallback([]byte(stkSuccess))
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_191220191020363925", res.CorrelationID)
	assert.Equal(t, "29115-34620561-1", res.SecondaryID)
	assert.Equal(t, "0", res.ResultCode)
	assert.Equal(t, provider.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "NLJ7RT61SV", res.ReceiptNumber)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "254708374149", res.PhoneNumber)
	assert.Equal(t, "20191219102115", res.TransactionDate)
	assert.Equal(t, "ws_CO_191220191020363925", res.Raw["CheckoutRequestID"])
}

func TestParseSTKCallback_Failure(t *testing.T) {
	res, err := ParseSTKCallback([]byte(stkCancelled))
	require.NoError(t, err)
	assert.Equal(t, provider.OutcomeFailed, res.Outcome)
	assert.Equal(t, "2001", res.ResultCode)
	assert.Empty(t, res.ReceiptNumber)
	assert.True(t, res.Amount.IsZero())
}

func TestParseSTKCallback_Invalid(t *testing.T) {
	for _, body := range []string{`not json`, `{}`, `{"Body":{}}`, `{"Body":{"stkCallback":{"ResultCode":0}}}`} {
		_, err := ParseSTKCallback([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidCallback, body)
	}
}

func TestParseB2CResult(t *testing.T) {
	res, err := ParseB2CResult([]byte(b2cSuccess))
	require.NoError(t, err)

	assert.Equal(t, "AG_20191219_00004e48cf7e3533f581", res.CorrelationID)
	assert.Equal(t, "10571-7910404-1", res.SecondaryID)
	assert.Equal(t, provider.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "NLJ41HAY6Q", res.ReceiptNumber)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(4500)))
	assert.Equal(t, "254708374149", res.PhoneNumber)
	assert.Equal(t, "19.12.2019 11:45:50", res.TransactionDate)
}

func TestParseB2CResult_OriginatorOnly(t *testing.T) {
	res, err := ParseB2CResult([]byte(`{"Result":{"ResultCode":0,"OriginatorConversationID":"PO-01JB3W6K9Q2Y5R8T0V4X7Z1C3E","TransactionID":"NLJ41HAY6Q"}}`))
	require.NoError(t, err)
	assert.Empty(t, res.CorrelationID)
	assert.Equal(t, "PO-01JB3W6K9Q2Y5R8T0V4X7Z1C3E", res.SecondaryID)
	assert.Equal(t, provider.OutcomeSuccess, res.Outcome)
}

func TestParseB2CTimeout_AlwaysFails(t *testing.T) {
	res, err := ParseB2CTimeout([]byte(`{"Result":{"ResultCode":0,"ConversationID":"AG_1"}}`))
	require.NoError(t, err)
	assert.Equal(t, provider.OutcomeFailed, res.Outcome)
	assert.NotEmpty(t, res.ResultDescription)

	_, err = ParseB2CTimeout([]byte(`{"Result":{}}`))
	assert.ErrorIs(t, err, ErrInvalidCallback)
}

func TestNormalizePhone(t *testing.T) {
	valid := map[string]string{
		"0712345678":       "254712345678",
		"0112345678":       "254112345678",
		"712345678":        "254712345678",
		"254712345678":     "254712345678",
		"+254 712 345 678": "254712345678",
		"0712-345-678":     "254712345678",
	}
	for in, want := range valid {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "12345", "0812345678", "2547123456789", "25471234567a", "+1 415 555 0100"} {
		_, err := NormalizePhone(in)
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber, in)
	}
}
