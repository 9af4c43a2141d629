package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"":      LevelInfo,
		"Warn":  LevelWarn,
		"error": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogBufferKeepsNewest(t *testing.T) {
	lb := NewLogBuffer(3)
	for _, m := range []string{"a", "b", "c", "d"} {
		lb.Add("INFO", "n1", m)
	}

	all := lb.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].Message)
	assert.Equal(t, "d", all[2].Message)

	recent := lb.GetRecent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Message)
	assert.Len(t, lb.GetRecent(10), 3)

	lb.Clear()
	assert.Empty(t, lb.GetAll())
	assert.Equal(t, 0, lb.Len())
}

func TestLogBufferWrapsInOrder(t *testing.T) {
	lb := NewLogBuffer(4)
	for i := 0; i < 10; i++ {
		lb.Add("INFO", "n1", string(rune('a'+i)))
	}

	assert.Equal(t, 4, lb.Len())
	var got []string
	for _, e := range lb.GetAll() {
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"g", "h", "i", "j"}, got)
	assert.Empty(t, lb.GetRecent(0))
	assert.Empty(t, lb.GetRecent(-1))
}

func TestLogBufferForNode(t *testing.T) {
	lb := NewLogBuffer(10)
	lb.Add("INFO", "n1", "one")
	lb.Add("INFO", "n2", "two")
	lb.Add("WARN", "n1", "three")

	got := lb.ForNode("n1")
	require.Len(t, got, 2)
	assert.Equal(t, "three", got[1].Message)
}

func TestLogBufferWriterSplitsLines(t *testing.T) {
	lb := NewLogBuffer(10)
	w := NewLogBufferWriter(lb)

	_, err := w.Write([]byte("[WARN] [node-1] Send error\n[INFO] plain line\npart"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ial\n"))
	require.NoError(t, err)

	entries := lb.GetAll()
	require.Len(t, entries, 3)

	assert.Equal(t, "WARN", entries[0].Level)
	assert.Equal(t, "node-1", entries[0].NodeID)
	assert.Equal(t, "Send error", entries[0].Message)

	assert.Equal(t, "system", entries[1].NodeID)
	assert.Equal(t, "plain line", entries[1].Message)

	assert.Equal(t, "partial", entries[2].Message, "partial writes are joined")
}

func TestGlobalLoggerLevelsAndOutputs(t *testing.T) {
	Init("mg", false)
	require.NotNil(t, GetGlobalLogger())

	var out bytes.Buffer
	require.NoError(t, AddOutput(&out))
	require.NoError(t, SetLevel(LevelWarn))
	t.Cleanup(func() {
		_ = RemoveOutput(&out)
		_ = SetLevel(LevelInfo)
	})

	Infof("hidden")
	Warnf("shown %d", 1)
	Node("n1", LevelError)("blink %s", "failed")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "[mg] [WARN] shown 1\n")
	assert.Contains(t, out.String(), "[mg] [ERROR] [n1] blink failed\n")

	require.NoError(t, SetEnabled(false))
	Errorf("muted")
	require.NoError(t, SetEnabled(true))
	assert.NotContains(t, out.String(), "muted")

	require.NoError(t, RemoveOutput(&out))
	Errorf("after removal")
	assert.NotContains(t, out.String(), "after removal")
}
