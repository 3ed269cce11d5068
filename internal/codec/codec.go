// Package codec implements the Object Codec (C1): canonical, deterministic
// serialization of typed entities plus the compressed on-disk byte format
// described in spec.md §4.1 and §6.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/odi-dev/odi/internal/entity"
)

// validator is implemented by entity values that carry a Validate() error
// method. Encode calls it before encoding so illegal states (e.g. a bad
// status) fail as an EncodingError rather than being persisted.
type validator interface {
	Validate() error
}

// Encode canonicalizes, validates, and compresses v, returning the full
// on-disk byte format (header + compressed payload). v must be a pointer to
// one of the entity kinds.
func Encode(v any) ([]byte, entity.Kind, error) {
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return nil, 0, &EncodingError{Reason: "validation failed", Err: err}
		}
	}

	var payload []byte
	var kind entity.Kind
	switch t := v.(type) {
	case *entity.Issue:
		payload, kind = marshalIssue(t), entity.KindIssue
	case *entity.Project:
		payload, kind = marshalProject(t), entity.KindProject
	case *entity.Workspace:
		payload, kind = marshalWorkspace(t), entity.KindWorkspace
	case *entity.User:
		payload, kind = marshalUser(t), entity.KindUser
	case *entity.Team:
		payload, kind = marshalTeam(t), entity.KindTeam
	case *entity.Label:
		payload, kind = marshalLabel(t), entity.KindLabel
	case *entity.RemoteDescriptor:
		payload, kind = marshalRemote(t), entity.KindRemoteDescriptor
	case *entity.ChangeSet:
		payload, kind = marshalChangeSet(t), entity.KindChangeSet
	default:
		return nil, 0, &EncodingError{Reason: fmt.Sprintf("unsupported type %T", v), Err: fmt.Errorf("no codec registered")}
	}

	compressed, err := compress(payload)
	if err != nil {
		return nil, 0, &EncodingError{Reason: "compression failed", Err: err}
	}

	h := header{Compressor: CompressorFlate, Version: CurrentVersion, Kind: kind, PayloadLength: uint64(len(compressed))}
	out := make([]byte, 0, headerLen+len(compressed))
	out = writeHeader(out, h)
	out = append(out, compressed...)
	return out, kind, nil
}

// Decode parses the header, decompresses the payload, and unmarshals it
// into the kind-appropriate entity struct, returning it as `any`
// (one of the *entity.* pointer types). Decode never trusts the hash under
// which the caller found these bytes; hash verification is the Object
// Store's job (C2).
func Decode(b []byte) (any, entity.Kind, error) {
	h, compressed, err := readHeader(b)
	if err != nil {
		return nil, 0, err
	}
	if _, err := entity.ParseKind(uint16(h.Kind)); err != nil {
		return nil, 0, newDecodeError("%v", err)
	}

	payload, err := decompress(h.Compressor, compressed)
	if err != nil {
		return nil, 0, &CorruptionError{Reason: "decompression failed", Err: err}
	}

	var v any
	switch h.Kind {
	case entity.KindIssue:
		v, err = unmarshalIssue(payload)
	case entity.KindProject:
		v, err = unmarshalProject(payload)
	case entity.KindWorkspace:
		v, err = unmarshalWorkspace(payload)
	case entity.KindUser:
		v, err = unmarshalUser(payload)
	case entity.KindTeam:
		v, err = unmarshalTeam(payload)
	case entity.KindLabel:
		v, err = unmarshalLabel(payload)
	case entity.KindRemoteDescriptor:
		v, err = unmarshalRemote(payload)
	case entity.KindChangeSet:
		v, err = unmarshalChangeSet(payload)
	}
	if err != nil {
		return nil, 0, &CorruptionError{Reason: "malformed canonical payload", Err: err}
	}
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return nil, 0, &CorruptionError{Reason: "decoded value fails validation", Err: err}
		}
	}
	return v, h.Kind, nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(c Compressor, data []byte) ([]byte, error) {
	switch c {
	case CompressorNone:
		return data, nil
	case CompressorFlate:
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		out, err := io.ReadAll(fr)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compressor tag %d", c)
	}
}
