package chookeye

import "context"

// LocationUpdate is one reading from a LocationProvider. Exactly one of
// Coords/Err is set: a nil Coords with a non-nil Err signals that the
// position is currently unavailable (provider disabled, permission denied,
// hardware error).
type LocationUpdate struct {
	Coords *Coordinates
	Err    error
}

// LocationProvider produces continuously-updated device coordinates. The
// returned channel is closed when ctx is done. Implementations wrap
// whatever position source the host environment offers; the sync core only
// ever reads from the channel.
type LocationProvider interface {
	Watch(ctx context.Context) <-chan LocationUpdate
}

// StaticProvider reports one fixed position and then holds until canceled.
// Used by the CLI when coordinates come from configuration, and by tests.
type StaticProvider struct {
	Coords Coordinates
}

// Watch implements LocationProvider.
func (p *StaticProvider) Watch(ctx context.Context) <-chan LocationUpdate {
	updates := make(chan LocationUpdate, 1)
	go func() {
		defer close(updates)
		select {
		case updates <- LocationUpdate{Coords: &p.Coords}:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return updates
}

// FuncProvider adapts a function that feeds updates into a channel, for
// sources that push (simulators, replayed tracks, tests).
type FuncProvider func(ctx context.Context, updates chan<- LocationUpdate)

// Watch implements LocationProvider.
func (p FuncProvider) Watch(ctx context.Context) <-chan LocationUpdate {
	updates := make(chan LocationUpdate)
	go func() {
		defer close(updates)
		p(ctx, updates)
	}()
	return updates
}
