package recorder

import "LegSentinel/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordTrade(_ *TradeEvent) error        { return nil }
func (n *NoopRecorder) RecordSession(_ *model.Summary) error { return nil }
func (n *NoopRecorder) Close() error                         { return nil }
