package recorder

// NoopRecorder is used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordWeekly(_ *WeeklyStats) error         { return nil }
func (n *NoopRecorder) RecordAccrual(_ *AccrualEvent) error       { return nil }
func (n *NoopRecorder) RecordWithdrawal(_ *WithdrawalEvent) error { return nil }
func (n *NoopRecorder) Close() error                              { return nil }
