// Package keynorm canonicalizes caller-supplied query parameters into a
// deterministic fingerprint and composes the versioned cache key format
// from spec §3/§4.2: "{data_type}:v{namespace_version}:{prefix}:{fingerprint}".
package keynorm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
)

// FingerprintLength is the number of hex characters kept from the SHA-256
// digest of the canonicalized parameter map (spec §4.2).
const FingerprintLength = 16

// Params is the caller-supplied parameter map to fingerprint. Values may be
// string, bool, or any Go numeric type; anything else is rendered with
// fmt.Sprintf("%v", …) as a last resort so normalization never panics.
type Params map[string]interface{}

// Fingerprint canonicalizes params and returns the first FingerprintLength
// hex characters of its SHA-256 digest. The same logical parameter map
// always yields the same fingerprint, independent of Go map iteration
// order, the caller's platform, or locale.
func Fingerprint(params Params) string {
	canon := Canonicalize(params)
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}

// Canonicalize renders params as a stable string: keys sorted
// lexicographically, "key=value" pairs joined with "&", values rendered by
// canonicalValue. This is exported so callers (and tests) can inspect the
// exact bytes that get hashed.
func Canonicalize(params Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+canonicalValue(params[k]))
	}
	return strings.Join(parts, "&")
}

func canonicalValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		// Internal whitespace is preserved; only leading/trailing is trimmed.
		return strings.TrimSpace(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return canonicalFloat(float64(val))
	case float64:
		return canonicalFloat(val)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}

// canonicalFloat renders a float with no trailing ".0" when it is
// mathematically an integer, and the shortest exact decimal otherwise
// (strconv's -1 precision picks the minimal round-trippable form, which
// also guarantees no spurious leading zeros).
func canonicalFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ComposeKey builds the versioned key
// "{data_type}:v{namespace_version}:{prefix}:{fingerprint}" from an
// already-computed fingerprint. prefix must not contain ':' or '*'
// (reserved by the pattern grammar in coordinator.InvalidatePattern).
func ComposeKey(dataType cachetypes.DataType, namespaceVersion int, prefix, fingerprint string) (string, error) {
	if namespaceVersion < 0 {
		return "", cachetypes.NewError(cachetypes.KindValidation, "keynorm.ComposeKey", string(dataType), fmt.Errorf("namespace_version must be >= 0, got %d", namespaceVersion))
	}
	if strings.ContainsAny(prefix, ":*") {
		return "", cachetypes.NewError(cachetypes.KindValidation, "keynorm.ComposeKey", string(dataType), fmt.Errorf("prefix %q must not contain ':' or '*'", prefix))
	}
	return fmt.Sprintf("%s:v%d:%s:%s", dataType, namespaceVersion, prefix, fingerprint), nil
}

// NormalizeQueryKey is the public entry point: normalize_query_key(type,
// prefix, version, **params) -> key from spec §4.2.
func NormalizeQueryKey(dataType cachetypes.DataType, prefix string, namespaceVersion int, params Params) (string, error) {
	return ComposeKey(dataType, namespaceVersion, prefix, Fingerprint(params))
}
