package engine

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// IDGenerator issues transfer ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random (v4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Observer is notified once per transfer attempt. kind is "" on success.
type Observer interface {
	TransferObserved(kind Kind, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TransferObserved(Kind, time.Duration) {}
