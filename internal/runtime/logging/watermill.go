package logging

import "github.com/ThreeDotsLabs/watermill"

// NewWatermillServiceLogger wraps a Watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("contractflow: watermill logger cannot be nil")
	}
	return watermillLogger{inner: logger}
}

type watermillLogger struct {
	inner watermill.LoggerAdapter
}

func (w watermillLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return watermillLogger{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w watermillLogger) Debug(msg string, fields LogFields) { w.inner.Debug(msg, toWatermill(fields)) }
func (w watermillLogger) Info(msg string, fields LogFields)  { w.inner.Info(msg, toWatermill(fields)) }
func (w watermillLogger) Trace(msg string, fields LogFields) { w.inner.Trace(msg, toWatermill(fields)) }

func (w watermillLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermill(fields))
}

// NewWatermillAdapter exposes a ServiceLogger as a Watermill LoggerAdapter
// for broker publishers and subscribers.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("contractflow: ServiceLogger cannot be nil")
	}
	if w, ok := log.(watermillLogger); ok {
		return w.inner
	}
	return watermillAdapter{base: log}
}

type watermillAdapter struct {
	base ServiceLogger
}

func (a watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.base.Debug(msg, fromWatermill(fields))
}

func (a watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.base.Info(msg, fromWatermill(fields))
}

func (a watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.base.Trace(msg, fromWatermill(fields))
}

func (a watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.base.Error(msg, err, fromWatermill(fields))
}

func (a watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillAdapter{base: a.base.With(fromWatermill(fields))}
}

func toWatermill(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermill(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}
