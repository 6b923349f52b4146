package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/relabs-tech/popstats/core/logger"
)

// proxy replays API Gateway proxy events through an http.Handler
type proxy struct {
	handler http.Handler
}

func newProxy(handler http.Handler) *proxy {
	return &proxy{handler: handler}
}

// Handle converts the event into a request, serves it and converts the
// recorded response back
func (p *proxy) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	r, err := p.request(ctx, event)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Error 5904: convert event")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}

	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, r)
	res := rec.Result()

	response := events.APIGatewayProxyResponse{
		StatusCode:        res.StatusCode,
		Headers:           map[string]string{},
		MultiValueHeaders: map[string][]string{},
	}
	for key, values := range res.Header {
		response.Headers[key] = strings.Join(values, ",")
		response.MultiValueHeaders[key] = values
	}
	body := rec.Body.Bytes()
	if isText(res.Header) {
		response.Body = string(body)
	} else {
		response.Body = base64.StdEncoding.EncodeToString(body)
		response.IsBase64Encoded = true
	}
	return response, nil
}

func (p *proxy) request(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	query := url.Values{}
	for key, values := range event.MultiValueQueryStringParameters {
		query[key] = values
	}
	for key, value := range event.QueryStringParameters {
		if _, ok := query[key]; !ok {
			query.Set(key, value)
		}
	}
	target := event.Path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		var err error
		if body, err = base64.StdEncoding.DecodeString(event.Body); err != nil {
			return nil, err
		}
	}

	r, err := http.NewRequestWithContext(ctx, event.HTTPMethod, target, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	for key, values := range event.MultiValueHeaders {
		for _, value := range values {
			r.Header.Add(key, value)
		}
	}
	for key, value := range event.Headers {
		if r.Header.Get(key) == "" {
			r.Header.Set(key, value)
		}
	}
	if ip := event.RequestContext.Identity.SourceIP; ip != "" {
		r.RemoteAddr = ip + ":0"
	}
	r.RequestURI = target
	return r, nil
}

// isText returns true if the response body can be passed as plain string
func isText(header http.Header) bool {
	if header.Get("Content-Encoding") != "" {
		return false
	}
	contentType := header.Get("Content-Type")
	return contentType == "" ||
		strings.HasPrefix(contentType, "text/") ||
		strings.Contains(contentType, "json")
}
