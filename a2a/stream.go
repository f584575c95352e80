package a2a

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentrelay/core"
)

// sseStream reads JSON-RPC responses framed as server-sent events.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	once   sync.Once
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, reader: bufio.NewReader(body)}
}

// Recv implements core.TaskStream. Frames without a known result kind are
// skipped; a JSON-RPC error frame ends the stream with an *RPCError.
func (s *sseStream) Recv() (core.TaskEvent, error) {
	for {
		data, err := s.next()
		if err != nil {
			return nil, err
		}

		ev, err := decodeFrame(data)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
	}
}

// Close implements core.TaskStream.
func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}

// next returns the data of the next event. Comment lines and fields other
// than data are ignored.
func (s *sseStream) next() ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case trimmed == "":
			if buf.Len() > 0 {
				return buf.Bytes(), nil
			}
		case strings.HasPrefix(trimmed, ":"):
		case strings.HasPrefix(trimmed, "data:"):
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
		}

		if errors.Is(err, io.EOF) {
			if buf.Len() > 0 {
				return buf.Bytes(), nil
			}
			return nil, io.EOF
		}
	}
}

// eventStream replays a fixed list of events.
type eventStream struct {
	events []core.TaskEvent
}

func (s *eventStream) Recv() (core.TaskEvent, error) {
	if len(s.events) == 0 {
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *eventStream) Close() error { return nil }

// decodeFrame turns one JSON-RPC response into a task event. It returns
// (nil, nil) for results this package does not relay.
func decodeFrame(data []byte) (core.TaskEvent, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("a2a: malformed frame: %.64q", data)
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() && e.Type != gjson.Null {
		return nil, rpcErrorOf(e)
	}

	res := gjson.GetBytes(data, "result")
	if !res.Exists() {
		return nil, nil
	}
	raw := []byte(res.Raw)

	switch res.Get("kind").String() {
	case kindStatusUpdate:
		var w wireStatusUpdate
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("a2a: decode status update: %w", err)
		}
		return &core.StatusUpdate{TaskID: w.TaskID, ContextID: w.ContextID, Status: w.Status.toCore(), Final: w.Final}, nil

	case kindArtifactUpdate:
		var w wireArtifactUpdate
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("a2a: decode artifact update: %w", err)
		}
		return &core.ArtifactUpdate{
			TaskID:    w.TaskID,
			ContextID: w.ContextID,
			Artifact:  w.Artifact.toCore(),
			Append:    w.Append,
			LastChunk: w.LastChunk,
		}, nil

	case kindTask:
		var w wireTask
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("a2a: decode task: %w", err)
		}
		st := w.Status.toCore()
		return &core.StatusUpdate{TaskID: w.ID, ContextID: w.ContextID, Status: st, Final: st.State.IsTerminal()}, nil

	case kindMessage:
		// A direct message reply completes the task.
		var w wireMessage
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("a2a: decode message: %w", err)
		}
		msg := w.toCore()
		ev := core.NewStatusUpdate(msg.TaskID, core.TaskStateCompleted, "")
		ev.ContextID = msg.ContextID
		ev.Status.Message = &msg
		return ev, nil
	}

	return nil, nil
}
