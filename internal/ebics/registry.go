package ebics

import (
	"context"
	"fmt"
	"time"

	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/gwerrors"
)

// OrderHandler executes one EBICS order type's exchange against a
// connection, mapping order type to a possibly multi-phase protocol
// exchange rather than a single-shot operation.
type OrderHandler interface {
	OrderType() OrderType
	Execute(ctx context.Context, tr Transport, cfg *connection.EBICSConfig, input []byte) ([]byte, error)
}

// Registry dispatches by order type. Handlers are registered at process
// start, never loaded from untrusted input.
type Registry struct {
	handlers map[OrderType]OrderHandler
}

// NewRegistry returns a Registry with the standard INI/HIA/HPB/CCT/C52/C53/HTD
// handlers registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[OrderType]OrderHandler)}
	r.Register(iniHandler{})
	r.Register(hiaHandler{})
	r.Register(hpbHandler{})
	r.Register(cctHandler{})
	r.Register(downloadHandler{orderType: OrderC52})
	r.Register(downloadHandler{orderType: OrderC53})
	r.Register(downloadHandler{orderType: OrderHTD})
	return r
}

// Register adds or replaces the handler for h's order type.
func (r *Registry) Register(h OrderHandler) {
	r.handlers[h.OrderType()] = h
}

// Dispatch runs the registered handler for orderType, or returns a
// KindBadRequest error if none is registered.
func (r *Registry) Dispatch(ctx context.Context, tr Transport, cfg *connection.EBICSConfig, orderType OrderType, input []byte) ([]byte, error) {
	h, ok := r.handlers[orderType]
	if !ok {
		return nil, gwerrors.New(gwerrors.KindBadRequest, fmt.Sprintf("no handler registered for order type %q", orderType))
	}
	return h.Execute(ctx, tr, cfg, input)
}

type iniHandler struct{}

func (iniHandler) OrderType() OrderType { return OrderINI }
func (iniHandler) Execute(ctx context.Context, tr Transport, cfg *connection.EBICSConfig, _ []byte) ([]byte, error) {
	return nil, SendINI(ctx, tr, cfg)
}

type hiaHandler struct{}

func (hiaHandler) OrderType() OrderType { return OrderHIA }
func (hiaHandler) Execute(ctx context.Context, tr Transport, cfg *connection.EBICSConfig, _ []byte) ([]byte, error) {
	return nil, SendHIA(ctx, tr, cfg)
}

type hpbHandler struct{}

func (hpbHandler) OrderType() OrderType { return OrderHPB }
func (hpbHandler) Execute(ctx context.Context, tr Transport, cfg *connection.EBICSConfig, _ []byte) ([]byte, error) {
	return nil, FetchHPB(ctx, tr, cfg)
}

type cctHandler struct{}

func (cctHandler) OrderType() OrderType { return OrderCCT }
func (cctHandler) Execute(ctx context.Context, tr Transport, cfg *connection.EBICSConfig, input []byte) ([]byte, error) {
	res, err := Upload(ctx, tr, cfg, input)
	if err != nil {
		return nil, err
	}
	return []byte(res.OrderID), nil
}

type downloadHandler struct {
	orderType OrderType
}

func (h downloadHandler) OrderType() OrderType { return h.orderType }

// Execute runs a download with a default one-day lookback window. Callers
// that need an explicit date range (internal/payment's ingestion loop) call
// Download directly instead of going through the registry.
func (h downloadHandler) Execute(ctx context.Context, tr Transport, cfg *connection.EBICSConfig, _ []byte) ([]byte, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -1)
	res, err := Download(ctx, tr, cfg, h.orderType, from, to)
	if err != nil {
		return nil, err
	}
	return res.OrderData, nil
}
