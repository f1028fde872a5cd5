package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender sends entries through tb.Log so each line is attributed to the running test,
// including subtests and parallel tests.
type testAppender struct {
	tb     testing.TB
	fields zapcore.Encoder
}

// NewTestAppender returns an appender that logs to tb. Fields are rendered as one json object in
// the order they were given.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{
		tb:     tb,
		fields: zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true}),
	}
}

func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	var line strings.Builder
	line.WriteString(entry.Time.Format(DefaultTimeFormatStr))
	line.WriteString("\t" + strings.ToUpper(entry.Level.String()))
	line.WriteString("\t" + entry.LoggerName)
	if entry.Caller.Defined {
		line.WriteString("\t" + entry.Caller.TrimmedPath())
	}
	line.WriteString("\t" + entry.Message)

	var err error
	if len(fields) > 0 {
		// an empty entry renders only the fields
		buf, encErr := tapp.fields.Clone().EncodeEntry(zapcore.Entry{}, fields)
		if encErr == nil {
			line.WriteString("\t")
			line.Write(buf.Bytes())
			buf.Free()
		}
		err = encErr
	}
	tapp.tb.Log(line.String())
	return err
}

func (tapp *testAppender) Sync() error {
	return nil
}
