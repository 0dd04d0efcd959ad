package paystream

import "github.com/xraph/paystream/id"

// ID is the primary identifier type for all paystream entities.
type ID = id.ID

// StreamID identifies a payment stream.
type StreamID = id.StreamID

// ParseStreamID parses a "strm_" prefixed identifier.
var ParseStreamID = id.ParseStreamID
