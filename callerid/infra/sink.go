package infra

import (
	"context"

	"golang.org/x/sync/errgroup"

	"callerid-gateway/callerid/domain"
)

// FanoutSink entrega o evento a todos os sinks em paralelo.
// Um sink lento ou com erro não impede os demais; o primeiro erro é devolvido.
type FanoutSink struct {
	sinks []domain.EventSink
}

func NewFanoutSink(sinks ...domain.EventSink) *FanoutSink {
	out := make([]domain.EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &FanoutSink{sinks: out}
}

func (f *FanoutSink) Len() int { return len(f.sinks) }

func (f *FanoutSink) Emit(ctx context.Context, ev domain.AllocationEvent) error {
	var g errgroup.Group
	for _, s := range f.sinks {
		s := s
		g.Go(func() error { return s.Emit(ctx, ev) })
	}
	return g.Wait()
}

var _ domain.EventSink = (*FanoutSink)(nil)
