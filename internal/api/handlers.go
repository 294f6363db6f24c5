package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// LedgerReader loads the delivered archive ids.
type LedgerReader interface {
	Load(ctx context.Context) ([]int64, error)
}

type Handler struct {
	ledger LedgerReader
}

func NewHandler(ledger LedgerReader) *Handler {
	return &Handler{ledger: ledger}
}

// GetLedger returns the number of delivered archives and the most recent
// ids, newest first.
func (h *Handler) GetLedger(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 10000 {
		limit = 100
	}

	ids, err := h.ledger.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	total := len(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	resp := gin.H{"count": total, "ids": ids}
	if total > 0 {
		resp["latest"] = ids[0]
	}
	c.JSON(http.StatusOK, resp)
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// NewRouter wires the API routes. Cycle routes are only mounted when a
// Temporal client is available.
func NewRouter(ledger LedgerReader, temporalClient client.Client, taskQueue string, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", Healthz)

	apiV1 := r.Group("/api/v1")
	{
		handler := NewHandler(ledger)
		apiV1.GET("/ledger", handler.GetLedger)

		if temporalClient != nil {
			workflowHandler := NewWorkflowHandler(temporalClient, taskQueue, logger)
			apiV1.POST("/cycles", workflowHandler.StartCycle)
			apiV1.GET("/cycles/:id/status", workflowHandler.GetCycleStatus)
		}
	}
	return r
}
