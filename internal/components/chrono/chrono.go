package chrono

import (
	"time"
	_ "time/tzdata"
)

// DefaultLocation is the forum's local timezone, check-ins roll over at its midnight.
const DefaultLocation = "Asia/Shanghai"

type API interface {
	Now() time.Time
	Location() *time.Location
}

type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl loads the named location, an empty name means DefaultLocation.
func NewStandardImpl(name string) (StandardImpl, error) {
	if name == "" {
		name = DefaultLocation
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func NewStandardImplIn(location *time.Location) StandardImpl {
	return StandardImpl{location: location}
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

// FixedImpl always reports the same instant.
type FixedImpl struct {
	Time time.Time
}

func (f FixedImpl) Now() time.Time {
	return f.Time
}

func (f FixedImpl) Location() *time.Location {
	return f.Time.Location()
}
