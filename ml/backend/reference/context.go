// context.go - Context-Verwaltung und Context-Binaries
//
// Dieses Modul enthaelt:
// - ContextCreate / ContextCreateFromBinary / ContextFree
// - ContextGetBinarySize / ContextGetBinary: Serialisierung ueber fs/artifact
package reference

import (
	"bytes"

	"github.com/7blacky7/qnnrt/fs/artifact"
	"github.com/7blacky7/qnnrt/ml"
)

func (b *Backend) ContextCreate(bh ml.BackendHandle, dh ml.DeviceHandle, _ []ml.ConfigOption) (ml.ContextHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg, dev, err := b.contextDeps("contextCreate", bh, dh)
	if err != nil {
		return 0, err
	}

	return ml.ContextHandle(b.contexts.add(newContext(cfg, dev))), nil
}

// ContextCreateFromBinary rebuilds a context with finalized graphs from an
// artifact produced by ContextGetBinary.
func (b *Backend) ContextCreateFromBinary(bh ml.BackendHandle, dh ml.DeviceHandle, _ []ml.ConfigOption, data []byte) (ml.ContextHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg, dev, err := b.contextDeps("contextCreateFromBinary", bh, dh)
	if err != nil {
		return 0, err
	}

	f, err := artifact.Open(data)
	if err != nil {
		return 0, ml.Errorf("contextCreateFromBinary", ml.StatusContextBinary, "%w", err)
	}

	if f.Version() == artifact.Version3 && f.BackendID() != BackendID {
		return 0, ml.Errorf("contextCreateFromBinary", ml.StatusContextBinary, "artifact for backend %d", f.BackendID())
	}

	ctx := newContext(cfg, dev)
	graphs, err := decodePayload(f.Payload(), ctx)
	if err != nil {
		return 0, ml.Errorf("contextCreateFromBinary", ml.StatusContextBinary, "payload: %w", err)
	}

	for i := range f.NumGraphs() {
		view := f.Graph(i)

		g, ok := graphs[view.Name()]
		if !ok {
			return 0, ml.Errorf("contextCreateFromBinary", ml.StatusContextBinary, "graph %q missing from payload", view.Name())
		}

		if len(g.inputs()) != view.NumInputs() || len(g.outputs()) != view.NumOutputs() {
			return 0, ml.Errorf("contextCreateFromBinary", ml.StatusContextBinary, "graph %q: tensor table does not match payload", view.Name())
		}

		g.finalized = true
		ctx.graphs.Set(g.name, g)
	}

	cfg.log.logf(ml.LogLevelInfo, "context restored from v%d binary with %d graphs", f.Version(), ctx.graphs.Len())
	return ml.ContextHandle(b.contexts.add(ctx)), nil
}

// contextDeps requires b.mu.
func (b *Backend) contextDeps(op string, bh ml.BackendHandle, dh ml.DeviceHandle) (*backendConfig, ml.DeviceConfig, error) {
	cfg, ok := b.backends.get(uintptr(bh))
	if !ok {
		return nil, ml.DeviceConfig{}, ml.Errorf(op, ml.StatusInvalidHandle, "backend %d", bh)
	}

	dev, ok := b.devices.get(uintptr(dh))
	if !ok {
		return nil, ml.DeviceConfig{}, ml.Errorf(op, ml.StatusInvalidHandle, "device %d", dh)
	}

	return cfg, dev, nil
}

// ContextGetBinarySize serializes the context. A context without graphs has
// size zero.
func (b *Backend) ContextGetBinarySize(ch ml.ContextHandle) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, ok := b.contexts.get(uintptr(ch))
	if !ok {
		return 0, ml.Errorf("contextGetBinarySize", ml.StatusInvalidHandle, "context %d", ch)
	}

	if ctx.graphs.Len() == 0 {
		return 0, nil
	}

	if err := ctx.serialize(); err != nil {
		return 0, err
	}

	return uint64(len(ctx.binary)), nil
}

// ContextGetBinary copies the serialized context into buf and returns the
// number of bytes written.
func (b *Backend) ContextGetBinary(ch ml.ContextHandle, buf []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, ok := b.contexts.get(uintptr(ch))
	if !ok {
		return 0, ml.Errorf("contextGetBinary", ml.StatusInvalidHandle, "context %d", ch)
	}

	if err := ctx.serialize(); err != nil {
		return 0, err
	}

	if len(buf) < len(ctx.binary) {
		return 0, ml.Errorf("contextGetBinary", ml.StatusContextBinarySz, "buffer of %d bytes, need %d", len(buf), len(ctx.binary))
	}

	return uint64(copy(buf, ctx.binary)), nil
}

func (b *Backend) ContextFree(ch ml.ContextHandle, _ ml.ProfileHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, ok := b.contexts.remove(uintptr(ch))
	if !ok {
		return ml.Errorf("contextFree", ml.StatusInvalidHandle, "context %d", ch)
	}

	// graph handles die with their context
	for id, g := range b.graphs.m {
		if g.ctx == ctx {
			delete(b.graphs.m, id)
		}
	}
	return nil
}

// serialize fills ctx.binary once all graphs are finalized.
func (ctx *context) serialize() error {
	if ctx.binary != nil {
		return nil
	}

	var records []artifact.GraphRecord
	for pair := ctx.graphs.Oldest(); pair != nil; pair = pair.Next() {
		g := pair.Value
		if !g.finalized {
			return ml.Errorf("contextGetBinary", ml.StatusGraphNotFinal, "graph %q is not finalized", g.name)
		}

		records = append(records, artifact.GraphRecord{
			Name:          g.name,
			Inputs:        g.inputs(),
			Outputs:       g.outputs(),
			VTCMSize:      g.scratchSize(),
			SpillFillSize: 0,
		})
	}

	var buf bytes.Buffer
	if err := artifact.Write(&buf, ctx.backend.artifactVersion, BackendID, records, encodePayload(ctx)); err != nil {
		return ml.Errorf("contextGetBinary", ml.StatusGeneralError, "%w", err)
	}

	ctx.binary = buf.Bytes()
	return nil
}

// scratchSize is the memory needed for intermediate tensors.
func (g *graph) scratchSize() uint64 {
	var n uint64
	for pair := g.tensors.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.desc.Type == ml.TensorTypeNative {
			n += uint64(pair.Value.desc.ByteSize())
		}
	}
	return n
}
