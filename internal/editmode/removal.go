package editmode

import "github.com/MrWong99/voxlabel/internal/speaker"

// PendingRemoval is the state of the removal confirmation: either
// [NoPendingRemoval] or [RemovalRequested].
type PendingRemoval interface {
	isPendingRemoval()
}

// NoPendingRemoval means no confirmation dialog is open.
type NoPendingRemoval struct{}

// RemovalRequested means the user asked to remove the speaker at Index and
// the removal awaits confirmation.
type RemovalRequested struct {
	Index     int    `json:"speakerIndex"`
	SpeakerID string `json:"speakerId"`

	// SpeakerName is the name shown in the confirmation, falling back to the
	// speaker id when the name is blank.
	SpeakerName string `json:"speakerName"`
}

func (NoPendingRemoval) isPendingRemoval() {}
func (RemovalRequested) isPendingRemoval() {}

// RequestRemove opens the confirmation for the speaker at index without
// mutating the store. It fails early with a [*speaker.LastEntityError] when
// that speaker is the only one left, so the dialog never offers an
// impossible removal.
func (c *Controller) RequestRemove(index int) (RemovalRequested, error) {
	m, ok := c.store.At(index)
	if !ok {
		return RemovalRequested{}, c.store.Fail(&IndexError{Index: index, Len: c.store.Len()})
	}
	if err := c.store.CanRemove(m.SpeakerID); err != nil {
		return RemovalRequested{}, err
	}

	req := RemovalRequested{
		Index:       index,
		SpeakerID:   m.SpeakerID,
		SpeakerName: m.DisplayName(),
	}

	c.mu.Lock()
	c.pending = req
	c.mu.Unlock()
	return req, nil
}

// ConfirmRemove performs the requested removal and closes the confirmation.
// The confirmation is closed even when the store refuses the removal.
func (c *Controller) ConfirmRemove() (speaker.Mapping, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pending.(RemovalRequested)
	if !ok {
		return speaker.Mapping{}, ErrNoPendingRemoval
	}
	c.pending = NoPendingRemoval{}

	m, _ := c.store.Lookup(req.SpeakerID)
	if err := c.store.Remove(req.SpeakerID); err != nil {
		return speaker.Mapping{}, err
	}
	delete(c.snapshots, req.SpeakerID)
	delete(c.errors, req.SpeakerID)
	return m, nil
}

// CancelRemove closes the confirmation without touching the store. It is a
// no-op when nothing is pending.
func (c *Controller) CancelRemove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = NoPendingRemoval{}
}

// Pending returns the current confirmation state.
func (c *Controller) Pending() PendingRemoval {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}
