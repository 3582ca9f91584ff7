package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tfkr-ae/orderproc/domain"
)

const streamHeartbeat = 15 * time.Second

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	page, err := intParam(query.Get("page"), 0)
	if err != nil {
		return badRequest(err, "invalid page")
	}
	size, err := intParam(query.Get("size"), domain.DefaultPageSize)
	if err != nil {
		return badRequest(err, "invalid size")
	}
	status, err := statusParam(query.Get("status"))
	if err != nil {
		return err
	}

	filter := domain.OrderFilter{
		Status: status,
		Search: strings.TrimSpace(query.Get("search")),
		Page:   page,
		Size:   size,
	}.Normalize()

	result, err := s.svc.ListOrders(r.Context(), filter)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) error {
	var order domain.Order
	if err := decodeJSON(r, &order); err != nil {
		return err
	}
	processed, err := s.svc.ProcessOrder(r.Context(), &order)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, processed)
}

// createBatch accepts a JSON array of orders or newline delimited JSON.
func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return badRequest(err, "reading body")
	}

	orders, err := decodeBatch(body, r.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return badRequest(nil, "batch contains no orders")
	}

	processed, err := s.svc.ProcessBatch(r.Context(), orders)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, processed)
}

func decodeBatch(body []byte, contentType string) ([]*domain.Order, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, badRequest(nil, "empty body")
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	ndjson := mediaType == "application/x-ndjson" || mediaType == "application/jsonl"
	if !ndjson && trimmed[0] != '[' {
		ndjson = mimetype.Detect(trimmed).Is("application/x-ndjson") || trimmed[0] == '{'
	}

	if !ndjson {
		var orders []*domain.Order
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			return nil, badRequest(err, "invalid json array")
		}
		return orders, nil
	}

	var orders []*domain.Order
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), len(trimmed)+1)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var order domain.Order
		if err := json.Unmarshal(text, &order); err != nil {
			return nil, badRequest(err, "invalid order on line %d", line)
		}
		orders = append(orders, &order)
	}
	if err := scanner.Err(); err != nil {
		return nil, badRequest(err, "reading ndjson body")
	}
	return orders, nil
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	order, err := s.svc.GetOrder(r.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, order)
}

func (s *Server) getOrderByNumber(w http.ResponseWriter, r *http.Request) error {
	order, err := s.svc.GetOrderByNumber(r.Context(), r.PathValue("orderNumber"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, order)
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return badRequest(nil, "status is required")
	}
	status, err := domain.ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	order, err := s.svc.UpdateOrderStatus(r.Context(), id, status)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, order)
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	if err := s.svc.DeleteOrder(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// streamOrders sends stored orders as server-sent events, then live updates when follow is set.
func (s *Server) streamOrders(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	status, err := statusParam(query.Get("status"))
	if err != nil {
		return err
	}
	limit, err := intParam(query.Get("limit"), 0)
	if err != nil {
		return badRequest(err, "invalid limit")
	}
	follow := false
	if raw := query.Get("follow"); raw != "" {
		follow, err = strconv.ParseBool(raw)
		if err != nil {
			return badRequest(err, "invalid follow")
		}
	}

	ctx := r.Context()
	var feed <-chan *domain.Order
	if follow {
		var cancel func()
		feed, cancel = s.svc.Subscribe(64)
		defer cancel()
	}

	stored, err := s.svc.OrdersByStatus(ctx, status, limit)
	if err != nil {
		return err
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	replayed := newReplayFilter(follow)
	sent := 0
	send := func(order *domain.Order) bool {
		if err := writeEvent(w, order); err != nil {
			s.logger.DebugContext(ctx, "order stream closed", "error", err)
			return false
		}
		if err := rc.Flush(); err != nil {
			return false
		}
		sent++
		return limit <= 0 || sent < limit
	}

	for _, order := range stored {
		if ctx.Err() != nil || !send(order) {
			return nil
		}
		replayed.sent(order)
	}
	if !follow {
		return nil
	}
	// an empty initial batch still needs the headers on the wire
	if err := rc.Flush(); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
		case order, ok := <-feed:
			if !ok {
				return nil
			}
			if status != nil && order.Status != *status {
				continue
			}
			if replayed.duplicate(order) {
				continue
			}
			if !send(order) {
				return nil
			}
		}
	}
}

// replayFilter drops live orders that were already sent from storage. The feed is
// subscribed before storage is read, so a save landing in between shows up in both.
type replayFilter struct {
	versions map[int64]int64
	maxID    int64
}

func newReplayFilter(enabled bool) *replayFilter {
	if !enabled {
		return &replayFilter{}
	}
	return &replayFilter{versions: make(map[int64]int64)}
}

func (f *replayFilter) sent(order *domain.Order) {
	if f.versions == nil {
		return
	}
	f.versions[order.ID] = order.Version
	f.maxID = max(f.maxID, order.ID)
}

// duplicate reports whether order was already sent at the same or a newer version.
// Once an order newer than everything stored arrives the feed has caught up and the
// filter is released.
func (f *replayFilter) duplicate(order *domain.Order) bool {
	if f.versions == nil {
		return false
	}
	if version, ok := f.versions[order.ID]; ok && order.Version <= version {
		return true
	}
	if order.ID > f.maxID {
		f.versions = nil
	}
	return false
}

func writeEvent(w io.Writer, order *domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshalling order %d : %w", order.ID, err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest(err, "invalid order id %q", r.PathValue("id"))
	}
	return id, nil
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func statusParam(raw string) (*domain.OrderStatus, error) {
	if raw == "" {
		return nil, nil
	}
	status, err := domain.ParseOrderStatus(raw)
	if err != nil {
		return nil, err
	}
	return &status, nil
}
