package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Signal types the vendor can deliver. Anything else is malformed at the
// boundary and never reaches the reconciler core.
const (
	SignalStarted   = "started"
	SignalSucceeded = "succeeded"
	SignalFailed    = "failed"
)

// ErrMalformedPayload is returned when an inbound signal cannot be decoded
// into one of the known variants.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Signal is one asynchronous notification from the vendor, decoded and
// validated. VendorRef identifies the job vendor-side.
type Signal struct {
	Type      string `json:"type"`
	VendorRef string `json:"vendor_ref"`
	ResultRef string `json:"result_ref,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ParseSignal decodes and validates a raw webhook body.
func ParseSignal(body []byte) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal(body, &sig); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if sig.VendorRef == "" {
		return Signal{}, fmt.Errorf("%w: missing vendor_ref", ErrMalformedPayload)
	}
	switch sig.Type {
	case SignalStarted, SignalFailed:
	case SignalSucceeded:
		if sig.ResultRef == "" {
			return Signal{}, fmt.Errorf("%w: succeeded signal missing result_ref", ErrMalformedPayload)
		}
	default:
		return Signal{}, fmt.Errorf("%w: unknown signal type %q", ErrMalformedPayload, sig.Type)
	}
	return sig, nil
}
