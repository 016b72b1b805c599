//go:build !unix

package reference

import "github.com/7blacky7/qnnrt/ml"

type memRegion struct {
	data []byte
}

func (b *Backend) MemRegister(ml.ContextHandle, ml.MemDescriptor) (ml.MemHandle, error) {
	return 0, ml.Errorf("memRegister", ml.StatusUnsupported, "shared memory registration needs a unix platform")
}

func (b *Backend) MemDeRegister(h ml.MemHandle) error {
	return ml.Errorf("memDeRegister", ml.StatusInvalidHandle, "mem %d", h)
}
