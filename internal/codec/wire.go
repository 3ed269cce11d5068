package codec

import (
	"encoding/binary"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"
)

// writer builds a canonical payload: fixed field order, explicit length
// prefixes so absence is distinguishable from empty, sorted set/map fields.
type writer struct {
	buf []byte
}

func (w *writer) string(s string) {
	s = norm.NFC.String(s)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(s)))
	w.buf = append(w.buf, tmp[:]...)
	w.buf = append(w.buf, s...)
}

// optString distinguishes an absent string from an empty one using a
// presence byte, per spec.md §4.1 ("absence distinguishable from empty").
func (w *writer) optString(s *string) {
	if s == nil {
		w.buf = append(w.buf, 0)
		return
	}
	w.buf = append(w.buf, 1)
	w.string(*s)
}

func (w *writer) uint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *writer) bool(b bool) {
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// millis encodes a UTC instant as a signed 64-bit millisecond Unix offset.
func (w *writer) millis(t time.Time) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(t.UnixMilli()))
	w.buf = append(w.buf, tmp[:]...)
}

func (w *writer) optMillis(t *time.Time) {
	if t == nil {
		w.buf = append(w.buf, 0)
		return
	}
	w.buf = append(w.buf, 1)
	w.millis(*t)
}

// stringSet writes a set of strings sorted by codepoint (natural key
// ordering), so equal sets always produce equal bytes regardless of
// insertion order (spec.md invariant 2).
func (w *writer) stringSet(ss []string) {
	sorted := append([]string(nil), ss...)
	sort.Strings(sorted)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(sorted)))
	w.buf = append(w.buf, tmp[:]...)
	for _, s := range sorted {
		w.string(s)
	}
}

// stringMap writes a string-to-string map sorted by key, so equal maps
// always produce equal bytes regardless of insertion order (spec.md
// invariant 2, same rationale as stringSet).
func (w *writer) stringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(keys)))
	w.buf = append(w.buf, tmp[:]...)
	for _, k := range keys {
		w.string(k)
		w.string(m[k])
	}
}

type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = newDecodeError(format, args...)
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.fail("truncated payload: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf))
		return false
	}
	return true
}

func (r *reader) string() string {
	if !r.need(4) {
		return ""
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *reader) optString() *string {
	if !r.need(1) {
		return nil
	}
	present := r.buf[r.pos]
	r.pos++
	if present == 0 {
		return nil
	}
	s := r.string()
	return &s
}

func (r *reader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v
}

func (r *reader) bool() bool {
	if !r.need(1) {
		return false
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v
}

func (r *reader) millis() time.Time {
	v := r.uint64()
	return time.UnixMilli(int64(v)).UTC()
}

func (r *reader) optMillis() *time.Time {
	if !r.need(1) {
		return nil
	}
	present := r.buf[r.pos]
	r.pos++
	if present == 0 {
		return nil
	}
	t := r.millis()
	return &t
}

func (r *reader) stringSet() []string {
	if !r.need(4) {
		return nil
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	if n == 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = r.string()
	}
	return out
}

func (r *reader) stringMap() map[string]string {
	if !r.need(4) {
		return nil
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	if n == 0 {
		return nil
	}
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k := r.string()
		v := r.string()
		out[k] = v
	}
	return out
}

// done rejects unknown trailing bytes: the canonical encoding has exactly
// one field sequence per kind, so any leftover payload is either a newer
// field this decoder doesn't know (rejected per spec.md §4.1) or corruption.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.buf) {
		return newDecodeError("unknown trailing fields: %d unread bytes", len(r.buf)-r.pos)
	}
	return nil
}
