package pipeline

import (
	"context"

	"github.com/yndnr/ledgersnap/internal/snapshot"
)

// Announcer publishes newly written archives.
type Announcer interface {
	Announce(ctx context.Context, info snapshot.ArchiveInfo) error
}

// ChannelAnnouncer delivers announcements on a buffered channel. When the
// buffer is full the oldest announcement is dropped.
type ChannelAnnouncer struct {
	ch chan snapshot.ArchiveInfo
}

func NewChannelAnnouncer(buffer int) *ChannelAnnouncer {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelAnnouncer{ch: make(chan snapshot.ArchiveInfo, buffer)}
}

// Announce never blocks.
func (a *ChannelAnnouncer) Announce(_ context.Context, info snapshot.ArchiveInfo) error {
	for {
		select {
		case a.ch <- info:
			return nil
		default:
		}
		select {
		case <-a.ch:
		default:
		}
	}
}

// Announcements returns the receive side.
func (a *ChannelAnnouncer) Announcements() <-chan snapshot.ArchiveInfo {
	return a.ch
}

type multiAnnouncer []Announcer

// MultiAnnouncer fans an announcement out to every non-nil announcer and
// returns the first error.
func MultiAnnouncer(announcers ...Announcer) Announcer {
	var m multiAnnouncer
	for _, a := range announcers {
		if a != nil {
			m = append(m, a)
		}
	}
	return m
}

func (m multiAnnouncer) Announce(ctx context.Context, info snapshot.ArchiveInfo) error {
	var first error
	for _, a := range m {
		if err := a.Announce(ctx, info); err != nil && first == nil {
			first = err
		}
	}
	return first
}
