package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/drblury/sensornode/device"
	"github.com/drblury/sensornode/link"
)

// journal records construction and release calls in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeLink struct {
	j        *journal
	name     string
	closes   int
	closeErr error
}

func (l *fakeLink) Name() string { return l.name }

func (l *fakeLink) Publish(context.Context, link.Event) error { return nil }

func (l *fakeLink) Close() error {
	l.closes++
	l.j.add("link.close")
	return l.closeErr
}

type fakeDevice struct {
	j      *journal
	link   device.Link
	loop   func(ctx context.Context) error
	loops  int
	closes int
}

func (d *fakeDevice) Loop(ctx context.Context) error {
	d.loops++
	d.j.add("device.loop")
	if d.loop == nil {
		return nil
	}
	return d.loop(ctx)
}

func (d *fakeDevice) Close() error {
	d.closes++
	d.j.add("device.close")
	return nil
}

// harness wires recording factories into a Runtime.
type harness struct {
	j         *journal
	links     []*fakeLink
	devices   []*fakeDevice
	linkErr   error
	deviceErr error
	loop      func(ctx context.Context) error
}

func newHarness() *harness {
	return &harness{j: &journal{}}
}

func (h *harness) newLink(_ context.Context, name string) (Link, error) {
	h.j.add("link.new %s", name)
	if h.linkErr != nil {
		return nil, h.linkErr
	}
	l := &fakeLink{j: h.j, name: name}
	h.links = append(h.links, l)
	return l, nil
}

func (h *harness) newDevice(_ context.Context, l device.Link) (device.Device, error) {
	h.j.add("device.new %s", l.Name())
	if h.deviceErr != nil {
		return nil, h.deviceErr
	}
	d := &fakeDevice{j: h.j, link: l, loop: h.loop}
	h.devices = append(h.devices, d)
	return d, nil
}

func (h *harness) constructions() int {
	n := 0
	for _, e := range h.j.list() {
		if strings.HasPrefix(e, "link.new") || strings.HasPrefix(e, "device.new") {
			n++
		}
	}
	return n
}
