package frame

import (
	"time"

	"github.com/google/uuid"
)

// Capture is one snapshot delivered by the capture source, not yet decoded.
type Capture struct {
	ID         string
	DataURI    string
	CapturedAt time.Time
}

func NewCapture(dataURI string) Capture {
	return Capture{
		ID:         uuid.NewString(),
		DataURI:    dataURI,
		CapturedAt: time.Now(),
	}
}

// FileName is the upload name of the capture; predictions reference it as their source.
func (c Capture) FileName(p Payload) string {
	return "capture-" + c.ID + p.Extension()
}
