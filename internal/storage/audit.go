package storage

import (
	"encoding/json"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/signal"
)

// LogInputs renders a signal decision and the price it was evaluated at
// into the JSON snapshot stored in TradeLog.InputsJSON, so a later
// report can show exactly what the engine saw at decision time.
func LogInputs(symbol string, price float64, d signal.Decision) string {
	snapshot := map[string]interface{}{
		"symbol":    symbol,
		"price":     price,
		"direction": string(d.Direction),
		"reason":    string(d.Reason),
	}
	b, err := json.Marshal(snapshot)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// NewTradeLog builds a TradeLog entry at the current time, stamped with
// the session and symbol it belongs to.
func NewTradeLog(sessionID, symbol, action, reasonCode, message, inputsJSON string, now time.Time) *TradeLog {
	return &TradeLog{
		SessionID:  sessionID,
		Timestamp:  now,
		Symbol:     symbol,
		Action:     action,
		ReasonCode: reasonCode,
		Message:    message,
		InputsJSON: inputsJSON,
	}
}
