// Package server exposes the read API and the operation submission endpoint.
// Reads come from the projection tables; submissions are framed and published
// onto the ops stream, never applied inline.
package server

import (
	"errors"
	"net/http"
	"strconv"

	sdkerrors "cosmossdk.io/errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ammcore/internal/amm"
	"ammcore/internal/curve"
	"ammcore/internal/ingestion"
	"ammcore/internal/observability"
	"ammcore/internal/query"
)

type Server struct {
	queries   *query.Service
	publisher *ingestion.Publisher
	health    *observability.Health
	log       zerolog.Logger
}

func New(queries *query.Service, publisher *ingestion.Publisher, health *observability.Health, log zerolog.Logger) *Server {
	return &Server{
		queries:   queries,
		publisher: publisher,
		health:    health,
		log:       log.With().Str("component", "http").Logger(),
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", gin.WrapF(s.health.LiveHandler))
	r.GET("/readyz", gin.WrapF(s.health.ReadyHandler))

	v1 := r.Group("/v1")
	v1.GET("/pools", s.listPools)
	v1.GET("/pools/:id", s.getPool)
	v1.GET("/pools/:id/quote", s.quoteSwap)
	v1.POST("/operations", s.submitOperation)

	return r
}

func (s *Server) listPools(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	pools, err := s.queries.ListPools(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if pools == nil {
		pools = []query.PoolView{}
	}
	c.JSON(http.StatusOK, gin.H{"pools": pools})
}

func (s *Server) getPool(c *gin.Context) {
	view, err := s.queries.GetPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// quoteSwap prices a swap against the projected reserves. The answer can lag
// the engine; it is an estimate, not a reservation.
func (s *Server) quoteSwap(c *gin.Context) {
	view, err := s.queries.GetPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	amountIn, err := strconv.ParseUint(c.Query("amount_in"), 10, 64)
	if err != nil {
		s.fail(c, amm.ErrInvalidAmount.Wrap("amount_in must be a non-negative integer"))
		return
	}

	reserveIn, reserveOut := view.ReserveX, view.ReserveY
	direction := c.DefaultQuery("direction", "x_to_y")
	switch direction {
	case "x_to_y":
	case "y_to_x":
		reserveIn, reserveOut = view.ReserveY, view.ReserveX
	default:
		s.fail(c, amm.ErrInvalidAmount.Wrapf("direction %q", direction))
		return
	}

	amountOut, err := curve.SwapQuote(reserveIn, reserveOut, amountIn, view.FeeBps)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pool_id":    view.PoolID,
		"direction":  direction,
		"amount_in":  amountIn,
		"amount_out": amountOut,
		"fee_bps":    view.FeeBps,
		"as_of":      view.UpdatedAt,
	})
}

// submitOperation accepts the same envelope the ops stream carries, validates
// it parses, and enqueues it. 202: the receipt arrives asynchronously on the
// receipts stream.
func (s *Server) submitOperation(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.fail(c, amm.ErrInvalidAmount.Wrapf("read body: %v", err))
		return
	}

	operation, err := ingestion.ParseOperation(body)
	if err != nil {
		s.fail(c, err)
		return
	}

	if err := s.publisher.PublishOperation(c.Request.Context(), operation); err != nil {
		s.log.Error().Err(err).Msg("operation publish failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "submission unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"idempotency_key": operation.Key(),
		"op_type":         operation.OpType(),
	})
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, amm.ErrPoolNotFound):
		status = http.StatusNotFound
	case errors.Is(err, amm.ErrPoolLocked):
		status = http.StatusConflict
	case errors.Is(err, amm.ErrInvalidAmount),
		errors.Is(err, amm.ErrInvalidFee),
		errors.Is(err, amm.ErrSameAsset),
		errors.Is(err, amm.ErrInsufficientLiquidity):
		status = http.StatusBadRequest
	}

	codespace, code, msg := sdkerrors.ABCIInfo(err, false)
	c.JSON(status, gin.H{
		"error":     msg,
		"code":      code,
		"codespace": codespace,
	})
}
