package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogAppendAndLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reenvios.log")
	log, err := OpenEventLog(path)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append("forwarded to bob@example.net"))
	require.NoError(t, log.Append("forwarded to alice@example.net"))

	lines, err := log.Lines()
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "forwarded to bob@example.net")
	assert.Contains(t, lines[1], "forwarded to alice@example.net")
}

func TestEventLogLinesOnMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-written.log")
	log := &EventLog{path: path}

	lines, err := log.Lines()
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestEventLogFileNameDefaultsToForwarded(t *testing.T) {
	assert.Equal(t, "reenvios.log", EventLogFileName(EventLogType("algo_desconocido")))
	assert.Equal(t, "errores.log", EventLogFileName(EventLogErrors))
	assert.Equal(t, "procesamiento.log", EventLogFileName(EventLogProcessing))
}

func TestLogSetAppendRoutesToCorrectSink(t *testing.T) {
	dir := t.TempDir()
	forwarded, err := OpenEventLog(filepath.Join(dir, "reenvios.log"))
	require.NoError(t, err)
	errorsLog, err := OpenEventLog(filepath.Join(dir, "errores.log"))
	require.NoError(t, err)
	processing, err := OpenEventLog(filepath.Join(dir, "procesamiento.log"))
	require.NoError(t, err)

	logs := &LogSet{Forwarded: forwarded, Errors: errorsLog, Processing: processing}
	logs.AppendForwarded("sent to bob@example.net")
	logs.AppendError("permanent failure for alice@example.net")
	logs.AppendProcessing("fetched subject X")

	fLines, err := forwarded.Lines()
	require.NoError(t, err)
	require.Len(t, fLines, 1)
	assert.Contains(t, fLines[0], "sent to bob@example.net")

	eLines, err := errorsLog.Lines()
	require.NoError(t, err)
	require.Len(t, eLines, 1)
	assert.Contains(t, eLines[0], "permanent failure for alice@example.net")

	pLines, err := processing.Lines()
	require.NoError(t, err)
	require.Len(t, pLines, 1)
	assert.Contains(t, pLines[0], "fetched subject X")
}

func TestLogSetAppendOnNilIsNoOp(t *testing.T) {
	var logs *LogSet
	logs.AppendForwarded("irrelevant")
	logs.AppendError("irrelevant")
	logs.AppendProcessing("irrelevant")
}
