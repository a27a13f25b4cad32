package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/msglog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// encodePayload packs the structured parts of a message (fields, reactions,
// completion) into a protobuf Struct. Numbers inside Fields come back as
// float64, as with any JSON-shaped value.
func encodePayload(m msglog.Message) ([]byte, error) {
	root := map[string]any{}
	if len(m.Body.Fields) > 0 {
		root["fields"] = m.Body.Fields
	}
	if len(m.Reactions) > 0 {
		r := make(map[string]any, len(m.Reactions))
		for emoji, n := range m.Reactions {
			r[emoji] = n
		}
		root["reactions"] = r
	}
	if c := m.Completion; c != nil {
		sources := make([]any, len(c.Sources))
		for i, s := range c.Sources {
			sources[i] = s
		}
		root["completion"] = map[string]any{
			"text":         c.Text,
			"sources":      sources,
			"failed":       c.Failed,
			"completed_at": c.CompletedAt.UnixMilli(),
		}
	}
	if len(root) == 0 {
		return nil, nil
	}
	s, err := structpb.NewStruct(root)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return proto.Marshal(s)
}

func decodePayload(b []byte, m *msglog.Message) error {
	if len(b) == 0 {
		return nil
	}
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	root := s.AsMap()

	if fields, ok := root["fields"].(map[string]any); ok {
		m.Body.Fields = fields
	}
	if reactions, ok := root["reactions"].(map[string]any); ok {
		m.Reactions = make(map[string]int, len(reactions))
		for emoji, n := range reactions {
			if f, ok := n.(float64); ok && f > 0 {
				m.Reactions[emoji] = int(f)
			}
		}
	}
	if c, ok := root["completion"].(map[string]any); ok {
		comp := &msglog.Completion{}
		comp.Text, _ = c["text"].(string)
		comp.Failed, _ = c["failed"].(bool)
		if ms, ok := c["completed_at"].(float64); ok {
			comp.CompletedAt = time.UnixMilli(int64(ms))
		}
		if sources, ok := c["sources"].([]any); ok {
			for _, s := range sources {
				if str, ok := s.(string); ok {
					comp.Sources = append(comp.Sources, str)
				}
			}
		}
		m.Completion = comp
	}
	return nil
}
