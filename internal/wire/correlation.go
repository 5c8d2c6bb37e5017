package wire

import "github.com/google/uuid"

// NewCorrelationID generates a fresh correlation id. The synthetic restart
// reply does not use it: that reply reuses the id stored in the restart
// marker. A uuid.New() with its dashes stripped is exactly 32 ASCII hex
// digits.
func NewCorrelationID() string {
	id := uuid.New().String()
	buf := make([]byte, 0, CorrelationIDLen)
	for i := 0; i < len(id); i++ {
		if id[i] != '-' {
			buf = append(buf, id[i])
		}
	}
	return string(buf)
}
