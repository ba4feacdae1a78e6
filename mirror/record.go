package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eternovinculo/visitguard/codec"
	"github.com/eternovinculo/visitguard/internal/wire"
	"github.com/eternovinculo/visitguard/store"
)

// RecordVersion is the layout version of Record.
const RecordVersion = 1

const defaultRecordKey = "visitguard:completed"

// Frame format ids; they tell a reader which codec wrote a record.
const (
	FormatJSON    byte = 1
	FormatMsgpack byte = 2
	FormatCBOR    byte = 3
	FormatProto   byte = 4
)

// Record is the whole durable state of one client: kind -> id -> completion
// time in unix milliseconds.
type Record struct {
	Version int                         `json:"version" msgpack:"version" cbor:"version"`
	Kinds   map[string]map[string]int64 `json:"kinds" msgpack:"kinds" cbor:"kinds"`
}

func newRecord() Record {
	return Record{Version: RecordVersion, Kinds: make(map[string]map[string]int64)}
}

func (r Record) has(kind, id string) bool {
	_, ok := r.Kinds[kind][id]
	return ok
}

// Len returns the number of markers in r.
func (r Record) Len() int {
	n := 0
	for _, ids := range r.Kinds {
		n += len(ids)
	}
	return n
}

// RecordOptions configure a RecordMirror. Only Store is required.
type RecordOptions struct {
	Store store.Store
	Codec codec.Codec[Record] // nil => codec.JSON[Record]
	// Format identifies Codec inside the frame. Inferred for the codecs of
	// this module; required for custom codecs.
	Format     byte
	Key        string        // storage key; "" => "visitguard:completed"
	TTL        time.Duration // 0 => no expiry
	CloseStore bool          // Close also closes Store

	// OnSelfHeal is called when an unreadable record was dropped.
	// reason is one of "corrupt", "format", "decode", "version".
	OnSelfHeal func(reason string, err error)
}

// RecordMirror keeps every marker in one framed record under a single store
// key. Each query re-reads the store, so markers written by another client
// sharing the store are seen on the next query. Writes go through
// store.Store.Update, so clients sharing the store never drop each other's
// markers.
type RecordMirror struct {
	store      store.Store
	codec      codec.Codec[Record]
	format     byte
	key        string
	ttl        time.Duration
	closeStore bool
	onSelfHeal func(string, error)
	now        func() time.Time
}

var _ Mirror = (*RecordMirror)(nil)

func NewRecord(opts RecordOptions) (*RecordMirror, error) {
	if opts.Store == nil {
		return nil, errors.New("mirror: store is required")
	}
	c := opts.Codec
	if c == nil {
		c = codec.JSON[Record]{}
	}
	format := opts.Format
	if format == 0 {
		format = formatOf(c)
	}
	if format == 0 {
		return nil, errors.New("mirror: Format is required for custom codecs")
	}
	key := opts.Key
	if key == "" {
		key = defaultRecordKey
	}
	return &RecordMirror{
		store:      opts.Store,
		codec:      c,
		format:     format,
		key:        key,
		ttl:        opts.TTL,
		closeStore: opts.CloseStore,
		onSelfHeal: opts.OnSelfHeal,
		now:        time.Now,
	}, nil
}

func formatOf(c codec.Codec[Record]) byte {
	switch cc := c.(type) {
	case codec.JSON[Record]:
		return FormatJSON
	case codec.Msgpack[Record]:
		return FormatMsgpack
	case codec.CBOR[Record]:
		return FormatCBOR
	case ProtoCodec:
		return FormatProto
	case codec.Limit[Record]:
		return formatOf(cc.Inner)
	default:
		return 0
	}
}

func (m *RecordMirror) Completed(ctx context.Context, kind, id string) (bool, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return false, err
	}
	return rec.has(kind, id), nil
}

func (m *RecordMirror) MarkCompleted(ctx context.Context, kind, id string) error {
	at := m.now().UnixMilli()
	return m.update(ctx, func(rec *Record) bool {
		if rec.has(kind, id) {
			return false
		}
		ids := rec.Kinds[kind]
		if ids == nil {
			ids = make(map[string]int64)
			rec.Kinds[kind] = ids
		}
		ids[id] = at
		return true
	})
}

func (m *RecordMirror) Clear(ctx context.Context, kind, id string) error {
	return m.update(ctx, func(rec *Record) bool {
		if !rec.has(kind, id) {
			return false
		}
		delete(rec.Kinds[kind], id)
		if len(rec.Kinds[kind]) == 0 {
			delete(rec.Kinds, kind)
		}
		return true
	})
}

func (m *RecordMirror) ClearKind(ctx context.Context, kind string) error {
	return m.update(ctx, func(rec *Record) bool {
		if _, ok := rec.Kinds[kind]; !ok {
			return false
		}
		delete(rec.Kinds, kind)
		return true
	})
}

func (m *RecordMirror) ClearAll(ctx context.Context) error {
	return m.store.Del(ctx, m.key)
}

// Snapshot returns a copy of the stored record.
func (m *RecordMirror) Snapshot(ctx context.Context) (Record, error) {
	return m.load(ctx)
}

func (m *RecordMirror) Close(ctx context.Context) error {
	if m.closeStore {
		return m.store.Close(ctx)
	}
	return nil
}

func (m *RecordMirror) load(ctx context.Context) (Record, error) {
	raw, ok, err := m.store.Get(ctx, m.key)
	if err != nil {
		return Record{}, fmt.Errorf("mirror: read record: %w", err)
	}
	if !ok {
		return newRecord(), nil
	}
	rec, reason, err := m.decode(raw)
	if err != nil {
		m.heal(ctx, raw, reason, err)
		return newRecord(), nil
	}
	return rec, nil
}

// decode returns the self-heal reason along with any error.
func (m *RecordMirror) decode(raw []byte) (Record, string, error) {
	payload, err := wire.DecodeRecord(m.format, raw)
	if err != nil {
		if errors.Is(err, wire.ErrFormat) {
			return Record{}, "format", err
		}
		return Record{}, "corrupt", err
	}
	rec, err := m.codec.Decode(payload)
	if err != nil {
		return Record{}, "decode", err
	}
	if rec.Version != RecordVersion {
		return Record{}, "version", fmt.Errorf("record version %d, want %d", rec.Version, RecordVersion)
	}
	if rec.Kinds == nil {
		rec.Kinds = make(map[string]map[string]int64)
	}
	return rec, "", nil
}

// update applies change to the stored record in one store.Update. change
// reports whether it modified the record. An unreadable record is replaced.
func (m *RecordMirror) update(ctx context.Context, change func(*Record) bool) error {
	var (
		healReason string
		healErr    error
	)
	err := m.store.Update(ctx, m.key, m.ttl, func(cur []byte, found bool) ([]byte, error) {
		healReason, healErr = "", nil
		rec := newRecord()
		if found {
			r, reason, err := m.decode(cur)
			if err != nil {
				healReason, healErr = reason, err
			} else {
				rec = r
			}
		}
		if !change(&rec) && healErr == nil {
			return nil, store.ErrUnchanged
		}
		return m.encode(rec)
	})
	if healErr != nil && err == nil && m.onSelfHeal != nil {
		m.onSelfHeal(healReason, healErr)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrRejected):
		return ErrRejected
	default:
		return fmt.Errorf("mirror: write record: %w", err)
	}
}

// encode frames rec; an empty record encodes to nil, which deletes the key.
func (m *RecordMirror) encode(rec Record) ([]byte, error) {
	if rec.Len() == 0 {
		return nil, nil
	}
	payload, err := m.codec.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("mirror: encode record: %w", err)
	}
	return wire.EncodeRecord(m.format, payload), nil
}

// heal drops raw if it is still what the store holds.
func (m *RecordMirror) heal(ctx context.Context, raw []byte, reason string, err error) {
	_ = m.store.Update(ctx, m.key, m.ttl, func(cur []byte, found bool) ([]byte, error) {
		if !found || !bytes.Equal(cur, raw) {
			return nil, store.ErrUnchanged
		}
		return nil, nil
	})
	if m.onSelfHeal != nil {
		m.onSelfHeal(reason, err)
	}
}
