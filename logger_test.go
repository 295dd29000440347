package cyclone

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leaumonte/CycloneTCP/config"
	"github.com/Leaumonte/CycloneTCP/test"
)

func TestConfigLogger(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)

	// Defaults
	require.NoError(t, c.LoadString(`{}`))
	require.NoError(t, configLogger(l, c))
	assert.Equal(t, logrus.InfoLevel, l.Level)
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)

	// Level and json format
	require.NoError(t, c.LoadString("logging:\n  level: debug\n  format: json"))
	require.NoError(t, configLogger(l, c))
	assert.Equal(t, logrus.DebugLevel, l.Level)
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	// Bad level
	require.NoError(t, c.LoadString("logging:\n  level: shouting"))
	assert.Error(t, configLogger(l, c))

	// Bad format
	require.NoError(t, c.LoadString("logging:\n  format: xml"))
	assert.Error(t, configLogger(l, c))

	// Timestamp options flow into the text formatter
	require.NoError(t, c.LoadString("logging:\n  format: text\n  timestamp_format: \"2006-01-02\""))
	require.NoError(t, configLogger(l, c))
	tf, ok := l.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.Equal(t, "2006-01-02", tf.TimestampFormat)
	assert.True(t, tf.FullTimestamp)
}
