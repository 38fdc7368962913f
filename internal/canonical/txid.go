/**
 * @description
 * Deterministic transaction identifiers for ledger writes. The ledger rejects a
 * duplicate txId, which makes every outbox retry safe.
 *
 * @notes
 * - External references have the form "source:id". The source is lowercased; the id keeps its case
 *   and may itself contain colons.
 * - Payload objects are serialized with sorted keys, NFC-normalized strings and no HTML escaping.
 *   Floats are rejected so money never round-trips through binary floating point.
 */

package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var ErrInvalidExternalRef = errors.New(`invalid external reference format: expected "source:id"`)

// NormalizeExternalRef trims ref and lowercases its source segment.
func NormalizeExternalRef(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	source, id, ok := strings.Cut(trimmed, ":")
	if !ok || source == "" || id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidExternalRef, ref)
	}
	return strings.ToLower(source) + ":" + id, nil
}

// ValidateExternalRef reports whether ref can be normalized.
func ValidateExternalRef(ref string) bool {
	_, err := NormalizeExternalRef(ref)
	return err == nil
}

// ComposeExternalRef joins a payment source and its reference into the "source:id" form.
func ComposeExternalRef(source, ref string) (string, error) {
	return NormalizeExternalRef(strings.TrimSpace(source) + ":" + strings.TrimSpace(ref))
}

// ComputeTxID hashes the transaction type, the normalized reference and the payload into a
// 64-character lowercase hex SHA-256 digest.
func ComputeTxID(txType, externalRef string, payload map[string]any) (string, error) {
	normalized, err := NormalizeExternalRef(externalRef)
	if err != nil {
		return "", err
	}

	body, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	typ, err := marshalString(txType)
	if err != nil {
		return "", err
	}
	ref, err := marshalString(normalized)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"txType":`)
	buf.Write(typ)
	buf.WriteString(`,"externalRef":`)
	buf.Write(ref)
	buf.WriteString(`,"payload":`)
	buf.Write(body)
	buf.WriteByte('}')

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// ExternalRefHash is the digest of the normalized reference that the ledger stores in place of
// the raw payment reference.
func ExternalRefHash(externalRef string) (string, error) {
	normalized, err := NormalizeExternalRef(externalRef)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// MarshalCanonical renders v as JSON with object keys sorted recursively. Arrays keep their order.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		b, err := marshalString(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case json.Number:
		if _, err := strconv.ParseInt(val.String(), 10, 64); err != nil {
			return fmt.Errorf("non-integer number %q is not allowed", val)
		}
		buf.WriteString(val.String())
	case float32, float64:
		return fmt.Errorf("floats are not allowed: %v", val)
	case fmt.Stringer:
		// decimal.Decimal and friends hash as their exact string form
		b, err := marshalString(val.String())
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case []string:
		elems := make([]any, len(val))
		for i, s := range val {
			elems[i] = s
		}
		return writeCanonical(buf, elems)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalString(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("%q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
	return nil
}

func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
