package logger

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"sync"
)

// LogBufferWriter is an io.Writer that feeds complete lines into a LogBuffer.
// It understands the line shape produced by this package:
//
//	[LEVEL] [nodeID] message
//
// Lines without a node tag are attributed to "system".
type LogBufferWriter struct {
	buffer *LogBuffer
	buf    bytes.Buffer
	mu     sync.Mutex
}

var lineRegex = regexp.MustCompile(`^(?:\[(DEBUG|INFO|WARN|ERROR)\]\s*)?(?:\[([^\]]+)\]\s*)?(.*)$`)

func NewLogBufferWriter(buffer *LogBuffer) *LogBufferWriter {
	return &LogBufferWriter{
		buffer: buffer,
	}
}

// Write implements io.Writer
func (lw *LogBufferWriter) Write(p []byte) (n int, err error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.buf.Write(p)

	for {
		line, err := lw.buf.ReadString('\n')
		if err == io.EOF {
			// keep the partial line for the next write
			lw.buf.WriteString(line)
			break
		}
		if err != nil {
			return len(p), err
		}

		line = strings.TrimSuffix(line, "\n")
		if len(line) == 0 {
			continue
		}
		lw.buffer.Add(parseLine(line))
	}

	return len(p), nil
}

func parseLine(line string) (level, nodeID, message string) {
	level, nodeID, message = LevelInfo.String(), "system", line
	m := lineRegex.FindStringSubmatch(line)
	if m == nil {
		return level, nodeID, message
	}
	if m[1] != "" {
		level = m[1]
	}
	if m[2] != "" {
		nodeID = m[2]
	}
	return level, nodeID, m[3]
}
