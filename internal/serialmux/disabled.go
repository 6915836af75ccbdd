package serialmux

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/monitoring"
)

// DisabledSerialMux stands in for the sensor when the service runs with
// -disable-serial. It never produces lines; subscriber channels stay open
// until Unsubscribe or Close so consumers shut down the same way as with a
// real device.
type DisabledSerialMux struct {
	mu      sync.Mutex
	subs    map[string]chan string
	closed  bool
	ignored atomic.Uint64
}

// NewDisabledSerialMux returns an open mux with no subscribers.
func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: make(map[string]chan string)}
}

// Subscribe returns a channel that is closed on Unsubscribe or Close. After
// Close the channel is returned already closed.
func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subs[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked(id)
}

func (d *DisabledSerialMux) closeLocked(id string) {
	if ch, ok := d.subs[id]; ok {
		close(ch)
		delete(d.subs, id)
	}
}

// SendCommand discards the command and counts it in Stats.
func (d *DisabledSerialMux) SendCommand(command string) error {
	d.ignored.Add(1)
	monitoring.Logf("[serialmux] serial disabled, ignoring command %q", command)
	return nil
}

// Initialise ignores the start commands.
func (d *DisabledSerialMux) Initialise(commands []string) error {
	d.ignored.Add(uint64(len(commands)))
	return nil
}

// Monitor blocks until ctx is done.
func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close closes every subscriber channel. It is safe to call more than once.
func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id := range d.subs {
		d.closeLocked(id)
	}
	return nil
}

func (d *DisabledSerialMux) Stats() Stats {
	return Stats{CommandsIgnored: d.ignored.Load()}
}

// AttachAdminRoutes serves /debug/serial-disabled, a JSON status report.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]any{"enabled": false, "stats": d.Stats()})
	})
}

var (
	_ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)
	_ SerialMuxInterface = (*DisabledSerialMux)(nil)
)
