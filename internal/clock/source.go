package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// Layout of Source.FormattedDate, e.g. 2024-05-06T14:30:00Z.
const Layout = "2006-01-02T15:04:05Z"

var errNotSynced = errors.New("time source never synchronised")

// Source is a network time client. Update refreshes only when the update
// interval has elapsed, ForceUpdate always queries.
type Source interface {
	Update() error
	ForceUpdate() error
	FormattedDate() string
}

type NTPOptions struct {
	Server         string
	Timeout        time.Duration
	UpdateInterval time.Duration
	// Offset shifts the formatted time from UTC for local display.
	Offset time.Duration
}

// NTPSource keeps the offset between the local clock and an NTP server.
type NTPSource struct {
	opts  NTPOptions
	query func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
	now   func() time.Time

	mu       sync.Mutex
	offset   time.Duration
	lastSync time.Time
}

func NewNTPSource(opts NTPOptions) *NTPSource {
	return &NTPSource{
		opts:  opts,
		query: ntp.QueryWithOptions,
		now:   time.Now,
	}
}

func (s *NTPSource) Update() error {
	s.mu.Lock()
	due := s.lastSync.IsZero() || s.now().Sub(s.lastSync) >= s.opts.UpdateInterval
	s.mu.Unlock()
	if !due {
		return nil
	}
	return s.ForceUpdate()
}

func (s *NTPSource) ForceUpdate() error {
	resp, err := s.query(s.opts.Server, ntp.QueryOptions{Timeout: s.opts.Timeout})
	if err != nil {
		return fmt.Errorf("ntp query %s: %w", s.opts.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("ntp response from %s: %w", s.opts.Server, err)
	}

	s.mu.Lock()
	s.offset = resp.ClockOffset
	s.lastSync = s.now()
	s.mu.Unlock()
	return nil
}

// FormattedDate returns the synchronised time, or "" before the first sync.
func (s *NTPSource) FormattedDate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync.IsZero() {
		return ""
	}
	return s.now().Add(s.offset).UTC().Add(s.opts.Offset).Format(Layout)
}

// SystemSource trusts the host clock, for nodes with a disciplined RTC.
type SystemSource struct {
	Offset time.Duration
	now    func() time.Time
}

func NewSystemSource(offset time.Duration) *SystemSource {
	return &SystemSource{Offset: offset, now: time.Now}
}

func (s *SystemSource) Update() error      { return nil }
func (s *SystemSource) ForceUpdate() error { return nil }

func (s *SystemSource) FormattedDate() string {
	return s.now().UTC().Add(s.Offset).Format(Layout)
}
