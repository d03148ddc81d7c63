// Package odatahttp serves the OData resource tree over HTTP. It parses the
// resource path and query options, hands the request to the dispatcher, and
// writes processor results as OData JSON.
package odatahttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tidb-odata/internal/dispatch"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/middleware"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/operation"
	"tidb-odata/internal/uri"
)

const (
	contentTypeJSON = "application/json;odata.metadata=minimal"
	contentTypeText = "text/plain;charset=utf-8"
	odataVersion    = "4.0"
	maxBodyBytes    = 1 << 20
)

// Handler serves every resource below the service root.
type Handler struct {
	model      uri.Model
	dispatcher *dispatch.Dispatcher
	basePath   string
}

// New creates a handler for resources below basePath.
func New(model uri.Model, dispatcher *dispatch.Dispatcher, basePath string) *Handler {
	return &Handler{model: model, dispatcher: dispatcher, basePath: strings.TrimSuffix(basePath, "/")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("OData-Version", odataVersion)

	resource := strings.TrimPrefix(r.URL.Path, h.basePath)
	if resource == "" || resource == "/" {
		if r.Method != http.MethodGet {
			h.writeError(ctx, w, odataerr.New(odataerr.KindBadRequest, odataerr.KeyUnknownResource, http.StatusMethodNotAllowed, r.Method))
			return
		}
		h.writeServiceDocument(w)
		return
	}

	path, err := uri.ParsePath(resource, h.model)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	options, err := uri.DecodeOptions(r.URL.Query())
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	proc, err := h.route(ctx, r, dispatch.Request{Path: path, Options: options, Header: r.Header})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if info := middleware.RequestInfoFromContext(ctx); info != nil {
		info.Processor = string(proc.Kind())
	}

	result, err := proc.Process(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeResult(ctx, w, r, path, result)
}

// route picks the dispatcher entry point for the request method.
func (h *Handler) route(ctx context.Context, r *http.Request, req dispatch.Request) (dispatch.Processor, error) {
	switch r.Method {
	case http.MethodGet:
		return h.dispatcher.Dispatch(ctx, req)
	case http.MethodPost:
		if terminal, ok := req.Path.Terminal(); ok && terminal.Kind == uri.KindAction {
			body, err := decodeBody(r)
			if err != nil {
				return nil, err
			}
			req.Body = body
			return h.dispatcher.DispatchAction(ctx, req)
		}
	}
	return h.dispatcher.DispatchModify(r.Method, req)
}

// decodeBody reads action parameters. An empty body means no parameters.
func decodeBody(r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, odataerr.Wrap(err, odataerr.KindBadRequest, odataerr.KeyInvalidQueryOption, http.StatusBadRequest, "body")
	}
	for name, value := range body {
		body[name] = normalizeNumber(value)
	}
	return body, nil
}

// normalizeNumber turns JSON numbers into int64 when integral, float64 otherwise.
func normalizeNumber(value any) any {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		for i := range v {
			v[i] = normalizeNumber(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = normalizeNumber(v[k])
		}
		return v
	}
	return value
}

func (h *Handler) writeResult(ctx context.Context, w http.ResponseWriter, r *http.Request, path *uri.Path, result *dispatch.Result) {
	if result.AppliedPageSize > 0 {
		w.Header().Set("Preference-Applied", "odata.maxpagesize="+strconv.Itoa(result.AppliedPageSize))
	}

	switch result.Shape {
	case dispatch.ShapeNone:
		w.WriteHeader(http.StatusNoContent)
	case dispatch.ShapeRaw:
		if result.Value == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", contentTypeText)
		w.WriteHeader(http.StatusOK)
		if b, ok := result.Value.([]byte); ok {
			_, _ = w.Write(b)
			return
		}
		_, _ = fmt.Fprint(w, result.Value)
	case dispatch.ShapeProperty:
		writeJSON(ctx, w, http.StatusOK, map[string]any{
			"@odata.context": h.contextURL(path),
			"value":          result.Value,
		})
	case dispatch.ShapeEntity:
		body := map[string]any{"@odata.context": h.contextURL(path)}
		if entity, ok := result.Value.(map[string]any); ok {
			for k, v := range entity {
				body[k] = v
			}
		} else {
			body["value"] = result.Value
		}
		writeJSON(ctx, w, http.StatusOK, body)
	default:
		body := map[string]any{
			"@odata.context": h.contextURL(path),
			"value":          result.Value,
		}
		if result.Count != nil {
			body["@odata.count"] = *result.Count
		}
		if result.NextToken != "" {
			body["@odata.nextLink"] = nextLink(r, result.NextToken)
		}
		if metrics := observability.MetricsFromContext(ctx); metrics != nil {
			if values, ok := result.Value.([]any); ok {
				metrics.RecordResultsCount(ctx, int64(len(values)), firstSegment(path))
			}
		}
		writeJSON(ctx, w, http.StatusOK, body)
	}
}

func (h *Handler) contextURL(path *uri.Path) string {
	return h.basePath + "/$metadata#" + firstSegment(path)
}

func firstSegment(path *uri.Path) string {
	if path == nil || len(path.Segments) == 0 {
		return ""
	}
	return path.Segments[0].Name
}

// nextLink repeats the request URL with the continuation token.
func nextLink(r *http.Request, token string) string {
	values := r.URL.Query()
	values.Set("$skiptoken", token)
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: values.Encode()}
	return u.String()
}

// writeServiceDocument lists the entity sets and function imports.
func (h *Handler) writeServiceDocument(w http.ResponseWriter) {
	var entries []map[string]string
	if h.model.Schema != nil {
		for _, table := range h.model.Schema.Tables {
			entries = append(entries, map[string]string{"name": table.EntitySetName, "kind": "EntitySet", "url": table.EntitySetName})
		}
	}
	if h.model.Catalog != nil {
		for _, d := range h.model.Catalog.Imports() {
			if d.Kind() != operation.KindFunction {
				continue
			}
			entries = append(entries, map[string]string{"name": d.ExternalName(), "kind": "FunctionImport", "url": d.ExternalName()})
		}
	}
	writeJSON(context.Background(), w, http.StatusOK, map[string]any{
		"@odata.context": h.basePath + "/$metadata",
		"value":          entries,
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// writeError maps pipeline errors to their status hint. Anything else is an
// internal error and its text is not exposed.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logging.FromContext(ctx)
	info := middleware.RequestInfoFromContext(ctx)

	e, ok := odataerr.As(err)
	if !ok {
		logger.Error("request failed", slog.String("error", err.Error()))
		if info != nil {
			info.ErrorKind = odataerr.KindInternal.String()
		}
		writeJSON(ctx, w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    string(odataerr.KeyQueryFailed),
			Message: "internal error",
		}})
		return
	}

	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if info != nil {
		info.ErrorKind = e.Kind.String()
	}
	attrs := []any{slog.String("error", err.Error()), slog.String("kind", e.Kind.String()), slog.Int("status", status)}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
	} else {
		logger.Debug("request rejected", attrs...)
	}

	message := err.Error()
	if e.Kind == odataerr.KindInternal {
		message = "internal error"
	}
	writeJSON(ctx, w, status, errorBody{Error: errorDetail{
		Code:       string(e.Key),
		Message:    message,
		Extensions: e.Extensions(),
	}})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.FromContext(ctx).Warn("failed to write response", slog.String("error", err.Error()))
	}
}
