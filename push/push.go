// Package push builds and sends the HTTP requests behind a rule's webhook
// action: template resolution of #PLC.Tag references in the body, header
// and auth setup, and the request itself. It has no condition state of its
// own — firing is keyed entirely off the rule's own state transitions.
package push

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"s7link/config"
)

// TagReader resolves #PLC.Tag references in a webhook body template.
type TagReader interface {
	ReadTag(plcName, tagName string) (interface{}, error)
}

// tagRefRegex matches #PLCName.tagName references in body templates.
var tagRefRegex = regexp.MustCompile(`#([a-zA-Z_]\w*(?:\.\w+)+)`)

// Request describes one webhook call, mirroring a rule action's webhook fields.
type Request struct {
	Name        string
	URL         string
	Method      string
	ContentType string
	Headers     map[string]string
	Body        string
	Auth        config.RuleAuthConfig
	Timeout     time.Duration
}

var defaultClient = &http.Client{Timeout: 30 * time.Second}

// ResolveBody replaces #PLC.tagName references in body with live tag values.
func ResolveBody(body string, reader TagReader) string {
	if body == "" {
		return ""
	}

	return tagRefRegex.ReplaceAllStringFunc(body, func(match string) string {
		ref := match[1:]
		dotIdx := strings.IndexByte(ref, '.')
		if dotIdx < 0 {
			return match
		}
		plcName := ref[:dotIdx]
		tagPath := ref[dotIdx+1:]

		value, err := reader.ReadTag(plcName, tagPath)
		if err != nil {
			return match
		}
		return fmt.Sprintf("%v", value)
	})
}

// Dispatch resolves the body template and sends the webhook, returning the
// HTTP status code on success.
func Dispatch(req Request, reader TagReader) (int, error) {
	if req.URL == "" {
		return 0, fmt.Errorf("push: no URL configured")
	}

	body := ResolveBody(req.Body, reader)

	httpReq, err := buildRequest(req, body)
	if err != nil {
		return 0, fmt.Errorf("push: failed to build request: %w", err)
	}

	client := defaultClient
	if req.Timeout > 0 {
		client = &http.Client{Timeout: req.Timeout}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("push: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func buildRequest(req Request, body string) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = "POST"
	}

	var bodyReader io.Reader
	if body != "" {
		bodyReader = bytes.NewBufferString(body)
	}

	httpReq, err := http.NewRequest(method, req.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	ct := req.ContentType
	if ct == "" {
		ct = "application/json"
	}
	if body != "" {
		httpReq.Header.Set("Content-Type", ct)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	switch req.Auth.Type {
	case config.RuleAuthBearer, config.RuleAuthJWT:
		httpReq.Header.Set("Authorization", "Bearer "+req.Auth.Token)
	case config.RuleAuthBasic:
		httpReq.SetBasicAuth(req.Auth.Username, req.Auth.Password)
	case config.RuleAuthCustomHeader:
		if req.Auth.HeaderName != "" {
			httpReq.Header.Set(req.Auth.HeaderName, req.Auth.HeaderValue)
		}
	}

	return httpReq, nil
}
