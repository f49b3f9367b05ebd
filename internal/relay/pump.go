package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/smazurov/sinkcam/internal/bufferpool"
	"github.com/smazurov/sinkcam/internal/convert"
	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/metrics"
)

// Pump runs one relay cycle. It never panics or returns an error: failures
// become the caption of the synthetic frame pushed instead.
func (r *Relay) Pump(ctx context.Context) Outcome {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		sleep(ctx, r.cfg.Interval)
		return r.count(OutcomeSkipped)
	}
	epoch := r.epoch
	producers := slices.Clone(r.producers)
	state, message := r.state, r.message
	coolingDown := state == StateError && time.Since(r.errorAt) < r.cfg.Cooldown
	r.mu.Unlock()

	if coolingDown {
		return r.count(r.pushSynthetic(ctx, epoch, message))
	}
	if len(producers) == 0 {
		r.transition(epoch, StateWaitingForProducer, WaitingText)
		return r.count(r.pushSynthetic(ctx, epoch, WaitingText))
	}
	if state == StateError {
		r.transition(epoch, StateWaitingForProducer, WaitingText)
	}

	f, err := r.pull(ctx, producers)
	if errors.Is(err, ErrNoFrame) {
		return r.count(r.idle(ctx, epoch))
	}
	if err != nil {
		if ctx.Err() != nil {
			return r.count(OutcomeSkipped)
		}
		r.fail(epoch, err)
		return r.count(r.pushSynthetic(ctx, epoch, err.Error()))
	}
	defer f.Release()

	if !r.current(epoch) {
		return r.count(OutcomeSkipped)
	}

	delivered, err := r.forward(ctx, epoch, f, false)
	if err != nil {
		if ctx.Err() != nil {
			return r.count(OutcomeSkipped)
		}
		r.fail(epoch, err)
		if delivered == 0 {
			return r.count(r.pushSynthetic(ctx, epoch, err.Error()))
		}
		return r.count(OutcomeRelayed)
	}
	if !r.current(epoch) {
		return r.count(OutcomeSkipped)
	}

	r.mu.Lock()
	if r.active && r.epoch == epoch {
		r.lastErr = nil
		r.lastFrameAt = time.Now()
		r.transitionLocked(StateStreaming, "")
	}
	r.mu.Unlock()
	return r.count(OutcomeRelayed)
}

// pull returns the first frame in attach order. Every producer is first
// asked without waiting, so an idle producer never delays a later one. If
// none had a frame the pull waits at most PullTimeout: on the producer itself
// when there is one, otherwise by re-polling all of them. It returns
// ErrNoFrame when no producer failed but none had a frame.
func (r *Relay) pull(ctx context.Context, producers []FrameSource) (*frame.Frame, error) {
	ready, cancel := context.WithCancel(ctx)
	cancel()
	f, err := r.pullPass(ctx, ready, producers)
	if !errors.Is(err, ErrNoFrame) {
		return f, err
	}

	wait, cancelWait := context.WithTimeout(ctx, r.cfg.PullTimeout)
	defer cancelWait()
	if len(producers) == 1 {
		return r.pullPass(ctx, wait, producers)
	}

	ticker := time.NewTicker(max(r.cfg.PullTimeout/10, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-wait.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrNoFrame
		case <-ticker.C:
		}
		f, err = r.pullPass(ctx, ready, producers)
		if !errors.Is(err, ErrNoFrame) {
			return f, err
		}
	}
}

// pullPass asks each producer once with pctx and returns the first frame.
func (r *Relay) pullPass(ctx, pctx context.Context, producers []FrameSource) (*frame.Frame, error) {
	var errs []error
	for _, p := range producers {
		f, err := p.NextFrame(pctx)
		if err == nil {
			return f, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A source that ran out of pctx had nothing ready.
		if errors.Is(err, ErrNoFrame) || (pctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))) {
			continue
		}
		metrics.IncPullError(pullReason(err))
		errs = append(errs, fmt.Errorf("producer %s: %w", p.Name(), err))
	}
	if len(errs) == 0 {
		return nil, ErrNoFrame
	}
	return nil, errors.Join(errs...)
}

// idle handles a cycle where producers are attached but none had a frame.
// Consumers keep the last frame while streaming; once the producers have
// been quiet for the stall timeout the waiting caption is shown again.
func (r *Relay) idle(ctx context.Context, epoch uint64) Outcome {
	r.mu.Lock()
	streaming := r.state == StateStreaming && time.Since(r.lastFrameAt) < r.cfg.StallTimeout
	r.mu.Unlock()
	if streaming {
		return OutcomeSkipped
	}
	r.transition(epoch, StateWaitingForProducer, WaitingText)
	return r.pushSynthetic(ctx, epoch, WaitingText)
}

func pullReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	type reasoner interface{ Reason() string }
	var r reasoner
	if errors.As(err, &r) {
		return r.Reason()
	}
	return "error"
}

// pushSynthetic pushes a generator frame captioned with text, or with the
// operator override when one is set.
func (r *Relay) pushSynthetic(ctx context.Context, epoch uint64, text string) Outcome {
	if override, ok := r.WarningText(); ok {
		text = override
	}
	r.synthetic.SetWarningText(text)

	f, err := r.synthetic.PopFrame(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("Synthetic frame unavailable", "error", err)
		}
		return OutcomeSkipped
	}
	defer f.Release()

	if !r.current(epoch) {
		return OutcomeSkipped
	}
	if _, err = r.forward(ctx, epoch, f, true); err != nil {
		r.logger.Debug("Synthetic frame not delivered to every consumer", "error", err)
	}
	return OutcomeSynthetic
}

// forward pushes f to every consumer, converting once per distinct layout.
// It returns how many consumers accepted the frame.
func (r *Relay) forward(ctx context.Context, epoch uint64, f *frame.Frame, placeholder bool) (int, error) {
	r.mu.Lock()
	consumers := slices.Clone(r.consumers)
	r.mu.Unlock()
	if len(consumers) == 0 {
		return 0, nil
	}

	var layouts []frame.Layout
	groups := make(map[frame.Layout][]Consumer)
	for _, c := range consumers {
		l := c.Layout()
		if _, ok := groups[l]; !ok {
			layouts = append(layouts, l)
		}
		groups[l] = append(groups[l], c)
	}

	var errs []error
	delivered := 0
	for _, layout := range layouts {
		out := f
		if layout != f.Format.Layout {
			converted, err := r.convertFrame(ctx, f, layout)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = converted
		}

		if r.current(epoch) {
			delivered += r.pushGroup(ctx, groups[layout], out, placeholder)
		}
		if out != f {
			out.Release()
		}
	}

	if len(errs) == 0 && delivered == 0 && r.current(epoch) {
		errs = append(errs, ErrAllConsumersFailed)
	}
	return delivered, errors.Join(errs...)
}

func (r *Relay) pushGroup(ctx context.Context, group []Consumer, f *frame.Frame, placeholder bool) int {
	delivered := 0
	for _, c := range group {
		if err := c.Push(ctx, f); err != nil {
			metrics.IncPushError(c.ID())
			r.mu.Lock()
			r.consumerFailures[c.ID()]++
			r.mu.Unlock()
			if placeholder {
				r.logger.Debug("Consumer push failed", "consumer", c.ID(), "error", err)
			} else {
				r.logger.Warn("Consumer push failed", "consumer", c.ID(), "error", err)
			}
			continue
		}
		delivered++
	}
	return delivered
}

// convertFrame renders f in layout into a buffer from the relay pool.
func (r *Relay) convertFrame(ctx context.Context, f *frame.Frame, layout frame.Layout) (*frame.Frame, error) {
	if r.converter == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoConverter, f.Format.Layout, layout)
	}
	outFormat, err := convert.OutputFormat(f.Format, layout)
	if err != nil {
		return nil, err
	}
	buf, err := r.pool.Allocate(outFormat)
	if err != nil {
		return nil, err
	}

	depth := r.DepthParams()
	err = r.converter.ConvertInto(ctx, f.Pixels, f.Format, layout, &depth, func(mapped []byte) error {
		copy(buf.Data, mapped)
		return nil
	})
	if err != nil {
		buf.Release()
		return nil, err
	}

	out := bufferpool.FrameFrom(buf, f.Timestamp)
	out.Sequence = f.Sequence
	return out, nil
}
