package model

// SampleSink receives samples from producers (relay sources and the local
// tracker). Implementations must not block indefinitely.
type SampleSink interface {
	Offer(Sample)
}

// SampleSinkFunc adapts a function to the SampleSink interface.
type SampleSinkFunc func(Sample)

func (f SampleSinkFunc) Offer(s Sample) { f(s) }

// ConnectionStore persists connection records across restarts so a daemon
// restart does not orphan series at the collector.
type ConnectionStore interface {
	UpsertConnection(rec ConnectionRecord) error
	DeleteConnection(id string) error
	ListConnections() ([]ConnectionRecord, error)
}

// SettingsStore is the persisted key/value settings contract. OnChange
// callbacks fire after a successful Set.
type SettingsStore interface {
	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error
	OnSettingChange(fn func(key, value string))
}
