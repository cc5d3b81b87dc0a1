package mirror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *capture) Publish(subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return c.err
}

func TestPublishSnapshotSubject(t *testing.T) {
	c := &capture{}
	m := New(c, "pumpmon.state.", nil)

	require.NoError(t, m.PublishSnapshot("PUMP-1", []byte(`{}`)))
	require.NoError(t, m.PublishSnapshot("lab.pump *2", []byte(`{}`)))
	require.NoError(t, m.PublishSnapshot("", []byte(`{}`)))

	assert.Equal(t, []string{
		"pumpmon.state.PUMP-1",
		"pumpmon.state.lab_pump__2",
		"pumpmon.state._",
	}, c.subjects)
}

func TestPublishErrorPropagates(t *testing.T) {
	boom := errors.New("no responders")
	m := New(&capture{err: boom}, "x", nil)
	assert.ErrorIs(t, m.PublishSnapshot("A", nil), boom)
}

func TestCloseWithoutConnection(t *testing.T) {
	m := New(&capture{}, "x", nil)
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.PublishSnapshot("A", nil), ErrClosed)
}

func TestConnectFailsFast(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "x", nil)
	assert.Error(t, err)
}
