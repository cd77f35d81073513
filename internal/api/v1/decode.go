package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError describes why a raw payload could not become a canonical event.
type ValidationError struct {
	Kind    Kind   `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s event: field '%s': %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s event: %s", e.Kind, e.Message)
}

// Details returns the structured fields for API error responses.
func (e *ValidationError) Details() map[string]interface{} {
	d := map[string]interface{}{"kind": string(e.Kind)}
	if e.Field != "" {
		d["field"] = e.Field
	}
	return d
}

// eodWire is the on-the-wire shape. Pointers distinguish "absent" from zero.
type eodWire struct {
	MessageID  string           `json:"message_id" validate:"required"`
	AccountID  string           `json:"account_id" validate:"required"`
	FacilityID string           `json:"facility_id" validate:"required"`
	Balance    *decimal.Decimal `json:"balance" validate:"required"`
	Timestamp  json.RawMessage  `json:"timestamp" validate:"required"`
}

type transactionWire struct {
	MessageID string           `json:"message_id" validate:"required"`
	AccountID string           `json:"account_id" validate:"required"`
	Amount    *decimal.Decimal `json:"amount" validate:"required"`
	EventType string           `json:"event_type" validate:"required,oneof=CREATED REMOVED"`
	Timestamp json.RawMessage  `json:"timestamp" validate:"required"`
}

// DecodeEodBalance parses and validates a raw EOD payload.
// Any failure is returned as *ValidationError.
func DecodeEodBalance(raw []byte) (*EodBalanceEvent, error) {
	var w eodWire
	if err := decodeStrict(raw, &w); err != nil {
		return nil, &ValidationError{Kind: KindEOD, Message: err.Error()}
	}
	if err := validate.Struct(&w); err != nil {
		return nil, fromValidator(KindEOD, err)
	}
	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return nil, &ValidationError{Kind: KindEOD, Field: "timestamp", Message: err.Error()}
	}
	return &EodBalanceEvent{
		MessageID:  w.MessageID,
		AccountID:  w.AccountID,
		FacilityID: w.FacilityID,
		Balance:    *w.Balance,
		Timestamp:  ts,
	}, nil
}

// DecodeTransaction parses and validates a raw transaction payload.
func DecodeTransaction(raw []byte) (*TransactionEvent, error) {
	var w transactionWire
	if err := decodeStrict(raw, &w); err != nil {
		return nil, &ValidationError{Kind: KindTransaction, Message: err.Error()}
	}
	if err := validate.Struct(&w); err != nil {
		return nil, fromValidator(KindTransaction, err)
	}
	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return nil, &ValidationError{Kind: KindTransaction, Field: "timestamp", Message: err.Error()}
	}
	return &TransactionEvent{
		MessageID: w.MessageID,
		AccountID: w.AccountID,
		Amount:    *w.Amount,
		EventType: TransactionType(w.EventType),
		Timestamp: ts,
	}, nil
}

// PeekAccountID extracts account_id without validating the rest of the payload.
// Used for partition routing before validation runs; returns "" when absent.
func PeekAccountID(raw []byte) string {
	var head struct {
		AccountID interface{} `json:"account_id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	switch v := head.AccountID.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// ParseTimestamp accepts RFC 3339 strings or integer epoch milliseconds.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errors.New("is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: must be RFC 3339", s)
		}
		return t.UTC(), nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s: must be RFC 3339 or epoch milliseconds", raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func decodeStrict(raw []byte, out interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("malformed json: %w", err)
	}
	return nil
}

func fromValidator(kind Kind, err error) *ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "is required"
		if fe.Tag() == "oneof" {
			msg = fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
		}
		return &ValidationError{Kind: kind, Field: fe.Field(), Message: msg}
	}
	return &ValidationError{Kind: kind, Message: err.Error()}
}
