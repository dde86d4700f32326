package common

// ReentrancyGuard rejects nested entry into a guarded operation. The zero
// value is ready to use.
type ReentrancyGuard struct {
	entered bool
}

// Enter marks the guard as held. It fails with ErrReentrantCall when the
// guard is already held.
func (g *ReentrancyGuard) Enter() error {
	if g.entered {
		return ErrReentrantCall
	}
	g.entered = true
	return nil
}

// Exit releases the guard.
func (g *ReentrancyGuard) Exit() {
	g.entered = false
}

// Held reports whether a guarded operation is in progress.
func (g *ReentrancyGuard) Held() bool { return g.entered }
