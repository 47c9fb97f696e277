package onebot

import (
	"encoding/json"
	"strings"
)

// Segment is one typed chunk of a message body.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (s Segment) str(key string) string { return anyToString(s.Data[key]) }

// Message is a sequence of segments. Some endpoints deliver the body as a raw
// CQ-encoded string instead; that decodes to a single text segment.
type Message []Segment

func (m *Message) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*m = Message{{Type: "text", Data: map[string]any{"text": raw}}}
		return nil
	}
	var segs []Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		return err
	}
	*m = Message(segs)
	return nil
}

// Flatten renders the segment sequence to CQ-code text: plain text passes
// through, known rich segments become bracketed CQ tags, unknown types become
// a minimal type tag. An empty result renders as a fixed placeholder.
func (m Message) Flatten() string {
	var parts []string
	for _, seg := range m {
		switch seg.Type {
		case "text":
			parts = append(parts, seg.str("text"))
		case "image":
			file := seg.str("file")
			url := seg.str("url")
			if url == "" {
				url = seg.str("file_url")
			}
			switch {
			case file != "" && url != "":
				parts = append(parts, "[CQ:image,file="+file+",url="+url+"]")
			case file != "":
				parts = append(parts, "[CQ:image,file="+file+"]")
			case url != "":
				parts = append(parts, "[CQ:image,url="+url+"]")
			default:
				parts = append(parts, "[image]")
			}
		case "at":
			if qq := seg.str("qq"); qq != "" {
				parts = append(parts, "[CQ:at,qq="+qq+"]")
			}
		case "forward":
			if id := seg.str("id"); id != "" {
				parts = append(parts, "[CQ:forward,id="+id+"]")
			}
		default:
			parts = append(parts, "["+seg.Type+"]")
		}
	}
	if len(parts) == 0 {
		return "[empty message]"
	}
	return strings.Join(parts, "")
}

// forwardIDKeys are tried in order against each forward tag; the first key
// with a non-empty value wins. Endpoints disagree on the attribute name.
var forwardIDKeys = []string{"id=", "res_id=", "message_id="}

// ExtractForwardIDs scans flattened text for [CQ:forward,...] tags and returns
// the referenced bundle ids in order of appearance.
func ExtractForwardIDs(text string) []string {
	const prefix = "[CQ:forward"
	var ids []string
	for idx := 0; ; {
		start := strings.Index(text[idx:], prefix)
		if start == -1 {
			break
		}
		start += idx
		end := strings.Index(text[start:], "]")
		if end == -1 {
			break
		}
		end += start
		tag := text[start:end]

		var value string
		for _, key := range forwardIDKeys {
			pos := strings.Index(tag, key)
			if pos == -1 {
				continue
			}
			pos += len(key)
			j := pos
			for j < len(tag) && tag[j] != ',' && tag[j] != ']' {
				j++
			}
			if value = tag[pos:j]; value != "" {
				break
			}
		}
		if value != "" {
			ids = append(ids, value)
		}
		idx = end + 1
	}
	return ids
}
