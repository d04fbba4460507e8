package logcfg

import (
	"bytes"
	"testing"

	logging "github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(&buf, "WARNING"))

	log := logging.MustGetLogger("logcfg-test")
	log.Infof("hidden %d", 1)
	log.Warningf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "logcfg-test[WARNING]: shown 2")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	err := Setup(&bytes.Buffer{}, "LOUD")
	assert.Error(t, err)
}
