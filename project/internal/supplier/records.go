package supplier

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/aarushishahhh/supplysync/project/internal/models"
)

const defaultPerPage = 100

var errInvalidJSON = errors.New("invalid JSON")

// member is one top-level key of an object payload, kept in document order.
type member struct {
	key   string
	value json.RawMessage
}

// payload is a decoded supplier response.
type payload struct {
	items   []models.Record
	members []member
}

// LocateRecordArray finds the array of records inside a supplier response.
// A non-empty top-level array whose first element is an object is used as
// is; otherwise the first top-level value of that shape wins, in document
// order. ok is false when no such array exists or body is not valid JSON.
func LocateRecordArray(body []byte) ([]models.Record, bool) {
	p, err := decodePayload(body)
	if err != nil || p.items == nil {
		return nil, false
	}
	return p.items, true
}

func decodePayload(body []byte) (*payload, error) {
	if !json.Valid(body) {
		return nil, errInvalidJSON
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return &payload{}, nil
	}

	switch delim {
	case '[':
		items, _ := recordArray(body)
		return &payload{items: items}, nil
	case '{':
		p := &payload{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)

			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, err
			}
			p.members = append(p.members, member{key: key, value: raw})

			if p.items == nil {
				if items, ok := recordArray(raw); ok {
					p.items = items
				}
			}
		}
		return p, nil
	}

	return &payload{}, nil
}

// recordArray reports whether raw is a non-empty array whose first element
// is an object, and decodes its object elements.
func recordArray(raw []byte) ([]models.Record, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil || len(elems) == 0 {
		return nil, false
	}

	first := bytes.TrimSpace(elems[0])
	if len(first) == 0 || first[0] != '{' {
		return nil, false
	}

	records := make([]models.Record, 0, len(elems))
	for _, elem := range elems {
		var rec models.Record
		if err := decodeNumbers(elem, &rec); err != nil || rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, true
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// metadata lists the objects pagination fields are read from, in priority
// order: the top level, then "meta", then "pagination".
func (p *payload) metadata() []map[string]json.RawMessage {
	top := make(map[string]json.RawMessage, len(p.members))
	for _, m := range p.members {
		if _, seen := top[m.key]; !seen {
			top[m.key] = m.value
		}
	}

	sources := []map[string]json.RawMessage{top}
	for _, key := range []string{"meta", "pagination"} {
		raw, ok := top[key]
		if !ok {
			continue
		}
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err == nil && nested != nil {
			sources = append(sources, nested)
		}
	}
	return sources
}

// pagination normalizes upstream metadata. total and hasNextPage come from
// independent fields and are not reconciled.
func (p *payload) pagination(requestedPage int) models.Pagination {
	sources := p.metadata()

	pg := models.Pagination{
		CurrentPage: requestedPage,
		PerPage:     defaultPerPage,
		Total:       len(p.items),
	}

	if v, ok := lookupInt(sources, "current_page", "currentPage"); ok {
		pg.CurrentPage = v
	}
	if v, ok := lookupInt(sources, "per_page", "perPage"); ok && v > 0 {
		pg.PerPage = v
	}
	if v, ok := lookupInt(sources, "total", "total_count", "totalCount"); ok {
		pg.Total = v
	}
	if v, ok := lookupString(sources, "next_page_url", "nextPageUrl"); ok {
		pg.NextPageURL = &v
		pg.HasNextPage = true
	}
	if v, ok := lookupString(sources, "prev_page_url", "prevPageUrl"); ok {
		pg.PrevPageURL = &v
		pg.HasPrevPage = true
	}

	return pg
}

func lookupInt(sources []map[string]json.RawMessage, keys ...string) (int, bool) {
	for _, src := range sources {
		for _, key := range keys {
			raw, ok := src[key]
			if !ok {
				continue
			}
			if v, ok := parseInt(raw); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func lookupString(sources []map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, src := range sources {
		for _, key := range keys {
			raw, ok := src[key]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// parseInt accepts JSON numbers and numeric strings.
func parseInt(raw json.RawMessage) (int, bool) {
	var n json.Number
	if err := decodeNumbers(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n = json.Number(s)
	}

	if i, err := n.Int64(); err == nil {
		return int(i), true
	}
	if f, err := n.Float64(); err == nil {
		return int(f), true
	}
	return 0, false
}
