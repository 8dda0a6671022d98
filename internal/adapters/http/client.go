package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
	"github.com/ohmynofan/b402-claimer/pkg/utils"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUnauthorized
	KindPaymentRequired
	KindClientError
	KindServerError
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindPaymentRequired:
		return "payment_required"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, e.Status)
}

func (e *HTTPError) Kind() ErrorKind {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return KindUnauthorized
	case e.StatusCode == http.StatusPaymentRequired:
		return KindPaymentRequired
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return KindClientError
	case e.StatusCode >= 500:
		return KindServerError
	default:
		return KindUnknown
	}
}

// Detail is the response body, or the status text when the body is empty.
func (e *HTTPError) Detail() string {
	if body := strings.TrimSpace(string(e.Body)); body != "" {
		return body
	}
	return e.Status
}

// KindOf reports the HTTPError kind anywhere in err's chain.
func KindOf(err error) ErrorKind {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Kind()
	}
	return KindUnknown
}

func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

type FetchOptions struct {
	Method            string
	Token             string
	Body              interface{}
	RawBody           []byte
	AdditionalHeaders map[string]string
}

type ClientOptions struct {
	Proxy   string
	Origin  string
	Timeout time.Duration
}

type APIClient struct {
	Proxy      string
	Origin     string
	UserAgent  string
	HTTPClient *http.Client
	Log        *logger.ClassLogger
}

func NewAPIClient(opts ClientOptions, status *model.Status) (*APIClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 256

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	apiClient := &APIClient{
		Proxy:     opts.Proxy,
		Origin:    strings.TrimRight(opts.Origin, "/"),
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
	}
	apiClient.Log = logger.NewLogger(apiClient, status)

	return apiClient, nil
}

func (c *APIClient) generateHeaders(token string) map[string]string {
	headers := map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"Content-Type":    "application/json",
		"User-Agent":      c.UserAgent,
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
		"Sec-Fetch-Dest":  "empty",
		"Sec-Fetch-Mode":  "cors",
		"Sec-Fetch-Site":  "same-site",
	}
	if c.Origin != "" {
		headers["Origin"] = c.Origin
		headers["Referer"] = c.Origin + "/"
	}
	if token != "" {
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		headers["Authorization"] = token
	}
	return headers
}

// Fetch performs the request and returns the decoded JSON body (or the raw
// string for non-JSON responses). Non-2xx responses return *HTTPError.
func (c *APIClient) Fetch(ctx context.Context, endpoint string, opts *FetchOptions) (interface{}, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	if opts.RawBody != nil && opts.Body != nil {
		return nil, fmt.Errorf("cannot specify both Body and RawBody")
	}

	var payload []byte
	useRawBody := opts.RawBody != nil
	hasBody := useRawBody || (method != http.MethodGet && opts.Body != nil)
	if hasBody {
		if useRawBody {
			payload = opts.RawBody
		} else {
			jsonBody, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			payload = jsonBody
		}
	}

	var reqBody io.Reader
	if hasBody {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.generateHeaders(opts.Token) {
		req.Header.Set(key, value)
	}
	for key, value := range opts.AdditionalHeaders {
		req.Header.Set(key, value)
	}
	if !hasBody {
		req.Header.Del("Content-Type")
	}

	if hasBody {
		c.Log.JustLog(fmt.Sprintf("%s %s\nBody:\n%s", method, endpoint, utils.BeautifyJSON(payload)))
	} else {
		c.Log.JustLog(fmt.Sprintf("%s %s", method, endpoint))
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer res.Body.Close()

	resBodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.Log.JustLog(fmt.Sprintf("Response %d Body:\n%s", res.StatusCode, utils.BeautifyJSON(resBodyBytes)))

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		var data interface{}
		if strings.Contains(res.Header.Get("Content-Type"), "application/json") {
			if err := json.Unmarshal(resBodyBytes, &data); err == nil {
				return data, nil
			}
		}
		return string(resBodyBytes), nil
	}

	return nil, &HTTPError{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Body:       resBodyBytes,
	}
}

// DecodeInto re-decodes a Fetch result into a typed value.
func DecodeInto(in interface{}, out interface{}) error {
	var data []byte
	switch v := in.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		data = encoded
	}
	return json.Unmarshal(data, out)
}
