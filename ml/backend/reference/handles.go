package reference

// handles vergibt opake IDs fuer Backend-Objekte. Null ist nie gueltig.
// Zugriff nur unter Backend.mu.
type handles[T any] struct {
	next uintptr
	m    map[uintptr]T
}

func (h *handles[T]) add(v T) uintptr {
	if h.m == nil {
		h.m = make(map[uintptr]T)
	}
	h.next++
	h.m[h.next] = v
	return h.next
}

func (h *handles[T]) get(id uintptr) (T, bool) {
	v, ok := h.m[id]
	return v, ok
}

func (h *handles[T]) remove(id uintptr) (T, bool) {
	v, ok := h.m[id]
	if ok {
		delete(h.m, id)
	}
	return v, ok
}
