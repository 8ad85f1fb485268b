package conversation

import (
	"github.com/PabloGalante/persona-chat/internal/domain"
)

// Messages in the view are never mutated in place; reconciliation swaps pointers.

func indexOfRef(view []*domain.Message, ref domain.MessageRef) int {
	for i, m := range view {
		if m.Ref == ref {
			return i
		}
	}
	return -1
}

// replaceRef swaps the entry identified by ref for msg at the same position.
func replaceRef(view []*domain.Message, ref domain.MessageRef, msg *domain.Message) bool {
	i := indexOfRef(view, ref)
	if i < 0 {
		return false
	}
	view[i] = msg
	return true
}

func removeRef(view []*domain.Message, ref domain.MessageRef) []*domain.Message {
	i := indexOfRef(view, ref)
	if i < 0 {
		return view
	}
	out := make([]*domain.Message, 0, len(view)-1)
	out = append(out, view[:i]...)
	return append(out, view[i+1:]...)
}

func cloneView(view []*domain.Message) []*domain.Message {
	if len(view) == 0 {
		return nil
	}
	out := make([]*domain.Message, len(view))
	copy(out, view)
	return out
}

// tail returns at most n of the newest entries, n <= 0 meaning all.
func tail(view []*domain.Message, n int) []*domain.Message {
	if n > 0 && len(view) > n {
		view = view[len(view)-n:]
	}
	return cloneView(view)
}
