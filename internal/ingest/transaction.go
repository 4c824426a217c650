// Package ingest converts raw delimited transaction rows into typed records
// and tails the transaction stream file for new rows.
package ingest

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the strict timestamp format for the transaction stream.
// Fixed-width ISO-8601 without a timezone offset, so lexicographic order on
// the raw string coincides with chronological order.
const TimeLayout = "2006-01-02T15:04:05"

// Field order of the transaction stream.
const (
	fieldTime = iota
	fieldAccountID
	fieldAmount
	fieldMerchant
	fieldLocation
	fieldStatus
	fieldCount
)

var (
	// ErrShortRecord is returned for rows with fewer than six fields.
	ErrShortRecord = errors.New("ingest: record has too few fields")
	// ErrBadTimestamp is returned when the timestamp does not match TimeLayout.
	// Such records cannot be placed in any window.
	ErrBadTimestamp = errors.New("ingest: unparseable timestamp")
	// ErrBadAmount is returned for malformed amounts when the parser is
	// configured to drop rather than coerce.
	ErrBadAmount = errors.New("ingest: unparseable amount")
)

// Transaction is one ingested event. Immutable after parsing.
type Transaction struct {
	Time      time.Time // parsed timestamp; zero only transiently during parsing
	RawTime   string    // original timestamp text, used for ordering and output
	AccountID string
	Amount    float64
	Merchant  string
	Location  string
	Status    string

	// AmountCoerced is true when the raw amount failed to parse and was
	// absorbed as 0.0 instead of rejecting the record.
	AmountCoerced bool
}

// Parser turns raw rows into Transactions.
type Parser struct {
	// CoerceAmounts absorbs malformed amounts as 0.0 instead of returning
	// ErrBadAmount. Matches the historical behavior of the pipeline; see
	// the amount-parse-mode configuration.
	CoerceAmounts bool
}

// Parse converts one raw record into a Transaction. Pure; no side effects.
//
// The timestamp must match TimeLayout exactly or the record is unusable for
// windowing (ErrBadTimestamp). The amount is trimmed and parsed as a float;
// failures either coerce to 0.0 or reject the record depending on
// CoerceAmounts. Merchant, location, and status may be empty.
func (p Parser) Parse(fields []string) (Transaction, error) {
	if len(fields) < fieldCount {
		return Transaction{}, ErrShortRecord
	}

	rawTime := strings.TrimSpace(fields[fieldTime])
	ts, err := time.Parse(TimeLayout, rawTime)
	if err != nil {
		return Transaction{}, ErrBadTimestamp
	}

	tx := Transaction{
		Time:      ts,
		RawTime:   rawTime,
		AccountID: strings.TrimSpace(fields[fieldAccountID]),
		Merchant:  strings.TrimSpace(fields[fieldMerchant]),
		Location:  strings.TrimSpace(fields[fieldLocation]),
		Status:    strings.TrimSpace(fields[fieldStatus]),
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(fields[fieldAmount]), 64)
	if err != nil {
		if !p.CoerceAmounts {
			return Transaction{}, ErrBadAmount
		}
		tx.Amount = 0.0
		tx.AmountCoerced = true
		return tx, nil
	}
	tx.Amount = amount

	return tx, nil
}

// FormatAmount renders an amount the way snapshot ordering and output expect:
// fixed six decimal places.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 6, 64)
}
