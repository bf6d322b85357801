package logging

// EntryLoggerAdapter is satisfied by logrus-style entry loggers whose
// WithField and WithError return their own type.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// NewEntryServiceLogger wraps an entry-style logger. Fields bound with With
// are applied to the entry when a line is written.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("contractflow: entry logger cannot be nil")
	}
	return &entryLogger[T]{entry: entry}
}

type entryLogger[T EntryLoggerAdapter[T]] struct {
	entry T
	bound LogFields
}

func (e *entryLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return &entryLogger[T]{entry: e.entry, bound: e.bound.Merge(fields)}
}

func (e *entryLogger[T]) Debug(msg string, fields LogFields) { e.at(fields).Debug(msg) }
func (e *entryLogger[T]) Info(msg string, fields LogFields)  { e.at(fields).Info(msg) }
func (e *entryLogger[T]) Trace(msg string, fields LogFields) { e.at(fields).Trace(msg) }

func (e *entryLogger[T]) Error(msg string, err error, fields LogFields) {
	entry := e.at(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func (e *entryLogger[T]) at(fields LogFields) T {
	entry := e.entry
	for k, v := range e.bound.Merge(fields) {
		entry = entry.WithField(k, v)
	}
	return entry
}
