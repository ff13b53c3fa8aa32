package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const initialEventListSize = 16

// Poller wraps one epoll instance. Channels are indexed by fd so that
// readiness events translated off the kernel's ready list can be routed
// straight back to the Channel that owns them.
type Poller struct {
	epollFD  int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Poller{
		epollFD:  fd,
		events:   make([]unix.EpollEvent, initialEventListSize),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *Poller) Close() error { return unix.Close(p.epollFD) }

// Poll blocks up to timeoutMS and returns the timestamp captured
// immediately after the syscall plus every Channel that became ready.
func (p *Poller) Poll(timeoutMS int) (Timestamp, []*Channel, error) {
	n, err := unix.EpollWait(p.epollFD, p.events, timeoutMS)
	receiveTime := Now()
	if err != nil {
		if err == unix.EINTR {
			return receiveTime, nil, nil
		}
		return receiveTime, nil, fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	active := make([]*Channel, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		if ch, ok := p.channels[int(ev.Fd)]; ok {
			ch.setRevents(ev.Events)
			active = append(active, ch)
		}
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return receiveTime, active, nil
}

// UpdateChannel adds or modifies interest for ch, keyed off its index
// (New/Added/Deleted) so a previously-removed fd's slot is reused.
func (p *Poller) UpdateChannel(ch *Channel) error {
	switch ch.index {
	case pollStateNew, pollStateDeleted:
		p.channels[ch.fd] = ch
		if err := p.epollCtl(unix.EPOLL_CTL_ADD, ch); err != nil {
			return err
		}
		ch.index = pollStateAdded
	case pollStateAdded:
		if ch.IsNoneEvent() {
			if err := p.epollCtl(unix.EPOLL_CTL_DEL, ch); err != nil {
				return err
			}
			ch.index = pollStateDeleted
		} else if err := p.epollCtl(unix.EPOLL_CTL_MOD, ch); err != nil {
			return err
		}
	}
	return nil
}

// RemoveChannel permanently detaches ch.
func (p *Poller) RemoveChannel(ch *Channel) error {
	delete(p.channels, ch.fd)
	if ch.index == pollStateAdded {
		if err := p.epollCtl(unix.EPOLL_CTL_DEL, ch); err != nil {
			return err
		}
	}
	ch.index = pollStateNew
	return nil
}

func (p *Poller) epollCtl(op int, ch *Channel) error {
	ev := unix.EpollEvent{Events: ch.pollEvents(), Fd: int32(ch.fd)}
	if err := unix.EpollCtl(p.epollFD, op, ch.fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl: %w", err)
	}
	return nil
}
