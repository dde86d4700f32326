package common

// ErrModulePaused rejects mutations on a module whose pause flag is set.
var ErrModulePaused = NewError(KindPaused, "module paused")

// PauseView exposes per-module pause flags.
type PauseView interface {
	IsPaused(module string) bool
}

// CheckPaused fails with ErrModulePaused while module is paused. A nil view
// or an empty module name never blocks.
func CheckPaused(view PauseView, module string) error {
	if view == nil || module == "" || !view.IsPaused(module) {
		return nil
	}
	return ErrModulePaused
}
