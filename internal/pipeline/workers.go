package pipeline

import (
	"context"
	"time"

	"github.com/0bVdnt/xrvideo/internal/cache"
	"github.com/0bVdnt/xrvideo/internal/codec"
	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/0bVdnt/xrvideo/internal/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// how long a decoder without a free slot waits before looking again
const slotRetryInterval = 20 * time.Millisecond

func (p *Pipeline) readLoop(ctx context.Context) {
	defer p.wg.Done()
	log := p.log.Named("reader")

	for {
		frame, epoch, ok := p.nextRead()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.wakeRead:
			}
			continue
		}

		started := time.Now()
		record, err := p.reader.ReadFrame(frame, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.fail(metrics.StageRead, errors.Wrapf(err, "read frame %d", frame))
			return
		}
		p.met.Observe(metrics.StageRead, started)
		log.Debug("read", zap.Int("frame", frame), zap.Uint64("epoch", epoch), zap.Int("bytes", len(record)))

		select {
		case p.readQ <- readItem{frame: frame, epoch: epoch, record: record}:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) decodeLoop(ctx context.Context) {
	defer p.wg.Done()
	log := p.log.Named("decoder")

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.readQ:
			if err := p.decodeFrame(ctx, log, item); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.fail(metrics.StageDecode, err)
				return
			}
		}
	}
}

func (p *Pipeline) decodeFrame(ctx context.Context, log *zap.Logger, item readItem) error {
	started := time.Now()

	meta, payload, err := container.ParseFrame(item.record)
	if err != nil {
		return errors.Wrapf(err, "parse frame %d", item.frame)
	}
	if err := p.checkRecord(item.frame, &meta); err != nil {
		return err
	}

	h, err := p.claimSlot(ctx, item)
	if err != nil || h == nil {
		return err
	}
	defer h.Abort()

	waitStart := time.Now()
	if err := h.Wait(ctx); err != nil {
		return err
	}
	p.met.WriteLockWait.Observe(time.Since(waitStart).Seconds())

	fr := h.Item()
	fr.Meta = meta
	dst, err := p.res.PrepareDecodeDestinations(fr.Data, &fr.Meta)
	if err != nil {
		return errors.Wrapf(err, "prepare destinations for frame %d", item.frame)
	}
	if err := codec.CheckDestinations(&fr.Meta, dst); err != nil {
		return errors.Wrapf(err, "frame %d", item.frame)
	}
	alpha, err := p.decoder.Decode(&fr.Meta, payload, dst)
	if err != nil {
		return errors.Wrapf(err, "decode frame %d", item.frame)
	}
	if err := p.res.AfterDecode(fr.Data, &fr.Meta, alpha); err != nil {
		return errors.Wrapf(err, "frame %d", item.frame)
	}

	h.Release()
	p.met.Observe(metrics.StageDecode, started)
	log.Debug("decoded",
		zap.Int("frame", item.frame),
		zap.Int("slot", h.Slot()),
		zap.Bool("keyframe", fr.Meta.IsKeyframe),
	)

	select {
	case p.transferQ <- transferItem{slot: h.Slot(), generation: h.Generation(), frame: item.frame, data: fr}:
		return nil
	case <-ctx.Done():
		p.res.CompleteTransfer(fr.Data, &fr.Meta)
		p.cache.Discard(h.Slot(), h.Generation())
		return ctx.Err()
	}
}

// Rejects a frame record that contradicts the index the schedule was built
// from, or whose deformation does not fit its keyframe's vertices.
func (p *Pipeline) checkRecord(frame int, meta *container.FrameMetadata) error {
	e := p.index.Entry(frame)
	if meta.IsKeyframe != e.Keyframe {
		return errors.Wrapf(container.ErrCorruptIndex, "frame %d: keyframe flag %v in record, %v in index",
			frame, meta.IsKeyframe, e.Keyframe)
	}
	if meta.StartTimestamp != e.StartTimestamp || meta.EndTimestamp != e.EndTimestamp {
		return errors.Wrapf(container.ErrCorruptIndex, "frame %d: record spans [%d, %d], index [%d, %d]",
			frame, meta.StartTimestamp, meta.EndTimestamp, e.StartTimestamp, e.EndTimestamp)
	}

	if meta.IsKeyframe {
		p.keyVertices[frame] = meta.UniqueVertexCount
		return nil
	}
	n, ok := p.keyVertices[p.index.KeyframeFor(frame)]
	if ok && meta.DeformationDataSize != n*container.DeformationStride {
		return errors.Wrapf(container.ErrInvalidMetadata, "frame %d: %d deformation bytes for %d keyframe vertices",
			frame, meta.DeformationDataSize, n)
	}
	return nil
}

// Chooses and claims the slot item is decoded into. Returns a nil handle
// when the item is no longer wanted. Blocks while every slot holds a frame
// that must be kept.
func (p *Pipeline) claimSlot(ctx context.Context, item readItem) (*cache.WriteHandle[*Frame], error) {
	for {
		p.mu.Lock()
		if item.epoch != p.epoch {
			p.mu.Unlock()
			p.met.Skipped.WithLabelValues("stale").Inc()
			return nil, nil
		}
		if p.pending[item.frame] == item.epoch {
			delete(p.pending, item.frame)
		}
		if p.cache.Contains(item.frame) {
			p.mu.Unlock()
			p.met.Skipped.WithLabelValues("cached").Inc()
			return nil, nil
		}

		slot, err := p.cache.ChooseSlot(p.evictableLocked())
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if slot >= 0 {
			h, err := p.cache.Claim(slot, item.frame)
			p.mu.Unlock()
			return h, err
		}
		// keep the frame marked as queued while waiting
		p.pending[item.frame] = item.epoch
		p.mu.Unlock()

		select {
		case <-p.progress:
		case <-time.After(slotRetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pipeline) transferLoop(ctx context.Context) {
	defer p.wg.Done()
	log := p.log.Named("transfer")

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.transferQ:
			started := time.Now()
			if err := p.res.CompleteTransfer(item.data.Data, &item.data.Meta); err != nil {
				p.cache.Discard(item.slot, item.generation)
				if ctx.Err() != nil {
					return
				}
				p.fail(metrics.StageTransfer, errors.Wrapf(err, "transfer frame %d", item.frame))
				return
			}
			if !p.cache.MarkReady(item.slot, item.generation) {
				log.Warn("slot changed during transfer", zap.Int("frame", item.frame), zap.Int("slot", item.slot))
				continue
			}
			p.met.Observe(metrics.StageTransfer, started)
			p.publishCacheStats()
			p.notifyProgress()
		}
	}
}

func (p *Pipeline) publishCacheStats() {
	st := p.cache.Stats()
	p.met.CacheSlots.WithLabelValues("empty").Set(float64(st.Empty))
	p.met.CacheSlots.WithLabelValues("writing").Set(float64(st.Writing))
	p.met.CacheSlots.WithLabelValues("decoded").Set(float64(st.Decoded))
	p.met.CacheSlots.WithLabelValues("ready").Set(float64(st.Ready))
}
