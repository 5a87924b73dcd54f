package restyutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

// sensitiveHeaders never make it into a dump.
var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Proxy-Authorization": true,
	"Set-Cookie":          true,
	"X-Xsrf-Token":        true,
}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		for _, v := range headers[k] {
			if sensitiveHeaders[http.CanonicalHeaderKey(k)] {
				v = "..."
			}
			out.WriteString(fmt.Sprintf("%s: %s\n", k, v))
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

// formatRequestBody masks every value of a form encoded body, those carry credentials,
// and the token fields of json bodies. Other bodies are dumped as is.
func formatRequestBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	contentType := req.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		return maskForm(string(readBody))
	case strings.Contains(contentType, "json") && len(readBody) > 0:
		return maskJSON(readBody)
	}
	return string(readBody)
}

func maskForm(encoded string) string {
	values, err := url.ParseQuery(encoded)
	if err != nil {
		return "<unparseable form body>"
	}
	for k, vals := range values {
		for i, v := range vals {
			if v != "" {
				vals[i] = "..."
			}
		}
		values[k] = vals
	}
	return values.Encode()
}

// sensitiveFields are json object keys whose values never make it into a dump.
var sensitiveFields = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"id_token":      true,
	"password":      true,
}

func maskValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, inner := range v {
			if sensitiveFields[strings.ToLower(k)] {
				v[k] = "..."
				continue
			}
			v[k] = maskValue(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = maskValue(inner)
		}
		return v
	}
	return v
}

// maskJSON masks token fields at any depth of a json body.
func maskJSON(body []byte) string {
	var value any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return "<unparseable json body>"
	}
	out, err := json.Marshal(maskValue(value))
	if err != nil {
		return "<unparseable json body>"
	}
	return string(out)
}

func formatResponseBody(res *resty.Response) string {
	if !strings.Contains(res.Header().Get("Content-Type"), "json") || len(res.Body()) == 0 {
		return res.String()
	}
	return maskJSON(res.Body())
}

// 1: request method
// 2: request url
// 3: request headers in ("Key: Value" format)
// 4: request body
// 5: response status
// 6: response url
// 7: response headers in ("Key: Value" format)
// 8: response body
const messageInfoTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

func formatHttpMessage(res *resty.Response) string {
	requestHeaders := formatHeaders(res.Request.RawRequest.Header)
	responseHeaders := formatHeaders(res.Header())

	responseUrl := res.Request.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		responseUrl = res.RawResponse.Request.URL.String()
	}

	return fmt.Sprintf(
		messageInfoTemplate,

		res.Request.Method, res.Request.URL,
		requestHeaders,
		formatRequestBody(res.Request.RawRequest),

		strconv.Itoa(res.StatusCode()), responseUrl,
		responseHeaders,
		formatResponseBody(res),
	)
}
