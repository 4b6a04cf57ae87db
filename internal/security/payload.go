package security

import (
	"errors"
	"fmt"
)

// Payload defaults for JSON read from the extension host and the admin API.
const (
	DefaultMaxPayloadBytes = 1 << 20
	DefaultMaxPayloadDepth = 32
)

// Payload errors.
var (
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrPayloadTooDeep   = errors.New("payload nesting exceeds maximum depth")
	ErrPayloadMalformed = errors.New("payload brackets are unbalanced")
)

// PayloadLimits bounds untrusted JSON before it is decoded. Zero fields
// take the defaults.
type PayloadLimits struct {
	MaxBytes int
	MaxDepth int
}

// WithDefaults fills zero fields.
func (l PayloadLimits) WithDefaults() PayloadLimits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxPayloadBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxPayloadDepth
	}
	return l
}

// Check rejects data larger than MaxBytes or nesting objects and arrays
// deeper than MaxDepth. Brackets inside strings are ignored. Check does
// not validate JSON syntax; decoding does.
func (l PayloadLimits) Check(data []byte) error {
	l = l.WithDefaults()
	if len(data) > l.MaxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), l.MaxBytes)
	}

	depth := 0
	inString, escaped := false, false
	for _, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > l.MaxDepth {
				return fmt.Errorf("%w: depth %d (max %d)", ErrPayloadTooDeep, depth, l.MaxDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return ErrPayloadMalformed
			}
		}
	}
	return nil
}
