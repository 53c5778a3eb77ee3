// Package signature implements the request signing scheme used by the
// exchange's v1 API.
//
// A signature covers the request parameters together with four reserved
// fields: the timestamp (`_`), the access key (`_ackey`), the access secret
// (`_acsec`) and the endpoint path (`_action`). Entries are sorted by name,
// rendered as name=value pairs joined with '&' and digested with SHA-256. The
// resulting token has the form
//
//	<key>.<timestamp millis>.<base64(sha256(signing string))>
//
// Sequence values are rendered by concatenating the string form of their
// elements with no separator. This matches the upstream protocol and must not
// be changed to a delimited join.
package signature

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMissingCredentials is returned by Signer.Sign when the key or secret is empty.
var ErrMissingCredentials = errors.New("signature: key or secret empty")

const (
	fieldTimestamp = "_"
	fieldKey       = "_ackey"
	fieldSecret    = "_acsec"
	fieldAction    = "_action"
)

// Signer produces signatures for a fixed key/secret pair.
type Signer struct {
	Key    string
	Secret string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// HasCredentials reports whether both key and secret are set.
func (s *Signer) HasCredentials() bool {
	return s != nil && s.Key != "" && s.Secret != ""
}

// Sign stamps the current time and returns the signature for the given action
// and parameters along with the timestamp (Unix milliseconds) it covers.
func (s *Signer) Sign(action string, params map[string]any) (string, int64, error) {
	if !s.HasCredentials() {
		return "", 0, ErrMissingCredentials
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now().UnixMilli()
	return Compute(action, params, s.Key, s.Secret, ts), ts, nil
}

// Compute returns the signature for a fixed timestamp. It is deterministic:
// the same inputs always produce the same output.
func Compute(action string, params map[string]any, key, secret string, tsMillis int64) string {
	sum := sha256.Sum256([]byte(CanonicalString(action, params, key, secret, tsMillis)))
	return key + "." + strconv.FormatInt(tsMillis, 10) + "." + base64.StdEncoding.EncodeToString(sum[:])
}

// CanonicalString builds the signing string that Compute digests.
func CanonicalString(action string, params map[string]any, key, secret string, tsMillis int64) string {
	fields := make(map[string]any, len(params)+4)
	for k, v := range params {
		fields[k] = v
	}
	fields[fieldTimestamp] = tsMillis
	fields[fieldKey] = key
	fields[fieldSecret] = secret
	fields[fieldAction] = action

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + render(fields[name])
	}
	return strings.Join(parts, "&")
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case []string:
		return strings.Join(t, "")
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var b strings.Builder
		for i := 0; i < rv.Len(); i++ {
			b.WriteString(render(rv.Index(i).Interface()))
		}
		return b.String()
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
