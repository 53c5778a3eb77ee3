package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/deribit-go/internal/logctx"
	"github.com/ggoodman/deribit-go/internal/wire"
	"github.com/ggoodman/deribit-go/signature"
)

const signatureHeader = "x-deribit-sig"

var jsonMediaType = contenttype.NewMediaType("application/json")

// RestClient performs one-shot HTTP requests. Private actions are POSTed as a
// form with the signature in the x-deribit-sig header; public actions are
// sent as GET with query parameters.
type RestClient struct {
	baseURL string
	signer  *signature.Signer
	client  *http.Client
	log     *slog.Logger
	opts    options
}

// NewRestClient constructs a RestClient.
func NewRestClient(opts ...Option) *RestClient {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	client := o.httpClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RestClient{
		baseURL: strings.TrimSuffix(o.url, "/"),
		signer:  &signature.Signer{Key: o.key, Secret: o.secret, Now: o.now},
		client:  client,
		log:     slog.New(logctx.Handler{Handler: o.log.Handler()}),
		opts:    o,
	}
}

// Request performs action and interprets the reply envelope the same way as
// Client.Request.
func (c *RestClient) Request(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	params = stripNil(params)

	if c.opts.limiter != nil {
		if err := c.opts.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var req *http.Request
	var err error
	if isPrivate(action) {
		if !c.signer.HasCredentials() {
			return nil, &ConfigurationError{Action: action, Reason: "key or secret empty"}
		}
		sig, _, serr := c.signer.Sign(action, params)
		if serr != nil {
			return nil, serr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+action, strings.NewReader(formValues(params).Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(signatureHeader, sig)
	} else {
		u := c.baseURL + action
		if q := formValues(params).Encode(); q != "" {
			u += "?" + q
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
	}
	req.Header.Set("Accept", "application/json")

	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{Action: action})
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.WarnContext(ctx, "rest.status", slog.Int("status", resp.StatusCode))
		return nil, &HTTPStatusError{Action: action, StatusCode: resp.StatusCode}
	}
	ctype := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	if !ctype.Matches(jsonMediaType) {
		return nil, fmt.Errorf("%s: unexpected content type %q", action, resp.Header.Get("Content-Type"))
	}

	var envelope wire.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", action, err)
	}
	return interpret(action, &envelope)
}

// formValues encodes params for a query string or form body. Sequences become
// repeated keys.
func formValues(params map[string]any) url.Values {
	vals := url.Values{}
	for k, v := range params {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			if b, ok := v.([]byte); ok {
				vals.Add(k, string(b))
				continue
			}
			for i := 0; i < rv.Len(); i++ {
				vals.Add(k, formValue(rv.Index(i).Interface()))
			}
			continue
		}
		vals.Add(k, formValue(v))
	}
	return vals
}

func formValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}
