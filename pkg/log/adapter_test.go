package log

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerLogrusAdapter_Levels(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger))

	adapter.Errorf("error %s", "test")
	adapter.Warningf("warning %d", 42)
	adapter.Infof("info %v", true)
	adapter.Debugf("debug")

	entries := hook.AllEntries()
	require.Len(t, entries, 4)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, "error test", entries[0].Message)
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, logrus.DebugLevel, entries[2].Level)
	assert.Equal(t, logrus.TraceLevel, entries[3].Level)
	for _, e := range entries {
		assert.Equal(t, "badgerdb", e.Data["component"])
	}
}

func TestBadgerLogrusAdapter_InfoHiddenAtInfoLevel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger))

	adapter.Infof("replaying value log")
	assert.Empty(t, hook.AllEntries())
}
