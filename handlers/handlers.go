package handlers

import "github.com/justapithecus/smelt/handler"

// RegisterBuiltins registers the built-in handlers under their canonical
// type tags. The registry is left unfrozen so the caller can add script
// and delegation handlers before dispatch.
func RegisterBuiltins(r *handler.Registry) error {
	if err := r.Register("raw", handler.CapImage|handler.CapPartition, Raw{}, nil); err != nil {
		return err
	}
	if err := r.Register("rawfile", handler.CapFile, File{}, nil); err != nil {
		return err
	}
	return r.Register("readback", handler.CapAll, Readback{}, nil)
}
