// Package httptransport talks to the car-management REST service.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	syncErrors "github.com/c0deZ3R0/carsync/errors"
	"github.com/c0deZ3R0/carsync/logging"
	"github.com/c0deZ3R0/carsync/model"
)

const (
	defaultProbeTimeout   = 2 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultMaxBodyBytes   = 8 << 20 // 8MB
	defaultCascadeLimit   = 4
)

// Gateway is the HTTP client for the remote service.
type Gateway struct {
	baseURL        string
	http           *http.Client
	base           *http.Transport
	probeTimeout   time.Duration
	requestTimeout time.Duration
	maxBodyBytes   int64
	cascadeLimit   int
	logger         *slog.Logger
}

// New creates a Gateway for baseURL, e.g. "http://localhost:3000".
func New(baseURL string, opts ...Option) *Gateway {
	base := http.DefaultTransport.(*http.Transport).Clone()
	g := &Gateway{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{Transport: otelhttp.NewTransport(base)},
		base:           base,
		probeTimeout:   defaultProbeTimeout,
		requestTimeout: defaultRequestTimeout,
		maxBodyBytes:   defaultMaxBodyBytes,
		cascadeLimit:   defaultCascadeLimit,
		logger:         logging.WithComponent(logging.Component("gateway")).Logger,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Close releases idle keep-alive connections.
func (g *Gateway) Close() {
	if g.base != nil {
		g.base.CloseIdleConnections()
	}
	g.http.CloseIdleConnections()
}

// ProbeLiveness reports whether GET /health answers with a 2xx status within the
// probe timeout. It never returns an error.
func (g *Gateway) ProbeLiveness(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		g.logger.Debug("Liveness probe request could not be built", "error", err)
		return false
	}

	resp, err := g.http.Do(req)
	if err != nil {
		g.logger.Debug("Liveness probe failed", "url", req.URL.String(), "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Debug("Liveness probe returned error status", "status_code", resp.StatusCode)
		return false
	}
	return true
}

// Execute dispatches op to the matching typed call. The returned value is a
// model.Manufacturer, []model.Manufacturer, model.DeleteResult, model.CarModel or
// []model.CarModel.
func (g *Gateway) Execute(ctx context.Context, op model.OperationKind, args []string) (any, error) {
	if err := op.ValidateArgs(args); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpExecute, err)
	}

	switch op {
	case model.CreateManufacturer:
		return g.CreateManufacturer(ctx, args[0])
	case model.ListManufacturers:
		return g.ListManufacturers(ctx)
	case model.DeleteManufacturerByID:
		return g.DeleteManufacturer(ctx, args[0])
	case model.AddModelByManufacturerID:
		return g.AddModel(ctx, args[0], args[1])
	case model.ViewModelsByManufacturerID:
		return g.ListModels(ctx, args[0])
	default:
		return nil, syncErrors.NewValidationError(syncErrors.OpExecute, fmt.Errorf("unsupported operation %q", op))
	}
}

// CreateManufacturer issues POST /manufacturers.
func (g *Gateway) CreateManufacturer(ctx context.Context, name string) (model.Manufacturer, error) {
	var out model.Manufacturer
	err := g.do(ctx, http.MethodPost, "/manufacturers", createManufacturerRequest{Name: name}, &out)
	return out, err
}

// ListManufacturers issues GET /manufacturers.
func (g *Gateway) ListManufacturers(ctx context.Context) ([]model.Manufacturer, error) {
	out := []model.Manufacturer{}
	if err := g.do(ctx, http.MethodGet, "/manufacturers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddModel issues POST /models.
func (g *Gateway) AddModel(ctx context.Context, manufacturerID, name string) (model.CarModel, error) {
	var out model.CarModel
	err := g.do(ctx, http.MethodPost, "/models", addModelRequest{Name: name, Manufacturer: manufacturerID}, &out)
	if err == nil && out.ManufacturerID == "" {
		out.ManufacturerID = manufacturerID
	}
	return out, err
}

// ListModels issues GET /models?manufacturer={id}.
func (g *Gateway) ListModels(ctx context.Context, manufacturerID string) ([]model.CarModel, error) {
	out := []model.CarModel{}
	path := "/models?" + url.Values{"manufacturer": {manufacturerID}}.Encode()
	if err := g.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteManufacturer looks up the manufacturer's models, deletes the manufacturer,
// then deletes every model it had. The model deletes run concurrently and are all
// finished before DeleteManufacturer returns.
func (g *Gateway) DeleteManufacturer(ctx context.Context, id string) (model.DeleteResult, error) {
	result := model.DeleteResult{ManufacturerID: id}

	models, err := g.ListModels(ctx, id)
	if err != nil {
		return result, err
	}

	if err := g.do(ctx, http.MethodDelete, "/manufacturers/"+url.PathEscape(id), nil, nil); err != nil {
		return result, err
	}

	deleted := make([]string, len(models))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cascadeLimit)
	for i, m := range models {
		eg.Go(func() error {
			if err := g.do(egCtx, http.MethodDelete, "/models/"+url.PathEscape(m.ID), nil, nil); err != nil {
				return fmt.Errorf("delete model %s: %w", m.ID, err)
			}
			deleted[i] = m.ID
			return nil
		})
	}
	waitErr := eg.Wait()

	for _, mid := range deleted {
		if mid != "" {
			result.DeletedModelIDs = append(result.DeletedModelIDs, mid)
		}
	}

	g.logger.Debug("Cascading delete finished",
		"manufacturer_id", id,
		"models_found", len(models),
		"models_deleted", len(result.DeletedModelIDs))

	if waitErr != nil {
		return result, syncErrors.WrapOpComponent(waitErr, syncErrors.OpExecute, "transport")
	}
	return result, nil
}

// do sends one request and decodes a 2xx JSON response into out when out is non-nil.
func (g *Gateway) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return syncErrors.NewWithComponent(syncErrors.OpExecute, "transport", fmt.Errorf("failed to marshal request: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	target := g.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpExecute, "transport", fmt.Errorf("failed to create request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	g.logger.Debug("Sending request", "method", method, "url", target)

	resp, err := g.http.Do(req)
	if err != nil {
		g.logger.Debug("Request failed", "method", method, "url", target, "error", err)
		return syncErrors.NewConnectivityError(syncErrors.OpExecute, fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	data, err := readBody(resp.Body, g.maxBodyBytes)
	if errors.Is(err, errBodyTooLarge) {
		return syncErrors.NewRemoteOperationError(syncErrors.OpExecute,
			&RemoteError{Status: resp.StatusCode, Message: fmt.Sprintf("response larger than %d bytes", g.maxBodyBytes)})
	}
	if err != nil {
		return syncErrors.NewConnectivityError(syncErrors.OpExecute, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("Request returned error status",
			"method", method,
			"url", target,
			"status_code", resp.StatusCode)
		return syncErrors.NewRemoteOperationError(syncErrors.OpExecute, newRemoteError(resp.StatusCode, data)).
			WithMetadata("method", method).
			WithMetadata("path", path)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return syncErrors.NewRemoteOperationError(syncErrors.OpExecute,
			&RemoteError{Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)})
	}
	return nil
}
