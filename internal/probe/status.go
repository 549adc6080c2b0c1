package probe

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Markers recorded for attempts that produced no HTTP response.
const (
	MarkerTimeout        = "timeout"
	MarkerTransportError = "transport_error"
	MarkerCanceled       = "canceled"
)

// AttemptStatus is either a numeric HTTP status or a marker for attempts
// without a response. It encodes as a JSON number or string respectively.
type AttemptStatus struct {
	Code   int
	Marker string
}

// StatusOf returns an AttemptStatus holding an HTTP status code.
func StatusOf(code int) AttemptStatus {
	return AttemptStatus{Code: code}
}

// MarkerOf returns an AttemptStatus holding a no-response marker.
func MarkerOf(marker string) AttemptStatus {
	return AttemptStatus{Marker: marker}
}

// HasResponse reports whether the attempt received an HTTP response.
func (s AttemptStatus) HasResponse() bool {
	return s.Marker == "" && s.Code > 0
}

func (s AttemptStatus) String() string {
	if s.Marker != "" {
		return s.Marker
	}
	return strconv.Itoa(s.Code)
}

// MarshalJSON implements json.Marshaler.
func (s AttemptStatus) MarshalJSON() ([]byte, error) {
	if s.Marker != "" {
		return json.Marshal(s.Marker)
	}
	return json.Marshal(s.Code)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *AttemptStatus) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		*s = AttemptStatus{Code: code}
		return nil
	}
	var marker string
	if err := json.Unmarshal(data, &marker); err != nil {
		return fmt.Errorf("attempt status must be a number or string: %s", string(data))
	}
	*s = AttemptStatus{Marker: marker}
	return nil
}
