package bank

// Subscribe registers for ledger change events. A full channel drops the event, so a slow
// subscriber only ever sees that something changed, not how many times.
// The returned cancel func unregisters and closes the channel; it is safe to call twice.
func (b *Bank) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, b.buffer)

	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.subMu.Unlock()

	cancel := func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// notify is called after the ledger lock is released and never blocks.
func (b *Bank) notify() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
