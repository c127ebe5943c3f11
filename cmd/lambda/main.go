package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-booking-engine/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-engine/internal/api/router"
	"github.com/wolfman30/clinic-booking-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-booking-engine/internal/config"
	"github.com/wolfman30/clinic-booking-engine/internal/http/handlers"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

// Lambda invocations share one engine per container. CRM jobs go to SQS only;
// an in-process queue would not outlive the invocation.
func buildHandler(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (http.Handler, error) {
	if cfg.CRMQueue == "" || cfg.CRMQueue == "memory" {
		cfg.CRMQueue = "none"
	}
	queue, _, err := mainconfig.BuildCRMQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine, err := bootstrap.BuildEngine(cfg, bootstrap.EngineOptions{
		Queue:      queue,
		Registerer: prometheus.NewRegistry(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return router.New(&router.Config{
		Logger:   logger,
		Booking:  handlers.NewBookingHandler(engine.Searcher, engine.Manager, engine.ServiceInfo(), logger),
		Recorder: engine.Metrics,
	}), nil
}

func main() {
	cfg := appconfig.Load()
	logger := mainconfig.NewLogger(cfg)

	h, err := buildHandler(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize booking engine", "error", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, h, evt)
	})
}

func handle(ctx context.Context, h http.Handler, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}
	if path == "" {
		path = "/"
	}
	if qs := strings.TrimSpace(evt.RawQueryString); qs != "" {
		path += "?" + qs
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, method, path, bytes.NewReader(body))
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid request"}, nil
	}
	for k, v := range evt.Headers {
		req.Header.Set(k, v)
	}
	if sourceIP := strings.TrimSpace(evt.RequestContext.HTTP.SourceIP); sourceIP != "" && headerValue(evt.Headers, "x-real-ip") == "" {
		req.Header.Set("X-Real-Ip", sourceIP)
	}
	if host := strings.TrimSpace(evt.RequestContext.DomainName); host != "" {
		req.Host = host
	}
	if id := strings.TrimSpace(evt.RequestContext.RequestID); id != "" && headerValue(evt.Headers, "x-request-id") == "" {
		req.Header.Set("X-Request-ID", id)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := events.APIGatewayV2HTTPResponse{
		StatusCode: rec.Code,
		Body:       rec.Body.String(),
		Headers:    map[string]string{},
	}
	for k := range rec.Header() {
		out.Headers[strings.ToLower(k)] = rec.Header().Get(k)
	}
	return out, nil
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(evt.Body)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
