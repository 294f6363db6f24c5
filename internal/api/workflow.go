package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/types"
	"github.com/yourorg/gdelt-ingest/internal/workflow"
)

type WorkflowHandler struct {
	temporalClient client.Client
	taskQueue      string
	logger         *zap.Logger
}

func NewWorkflowHandler(temporalClient client.Client, taskQueue string, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{temporalClient: temporalClient, taskQueue: taskQueue, logger: logger}
}

type StartCycleRequest struct {
	Sample      bool `json:"sample"`
	Concurrency int  `json:"concurrency" binding:"gte=0"`
}

type StartCycleResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// StartCycle starts one IngestCycleWorkflow. The body is optional.
func (h *WorkflowHandler) StartCycle(c *gin.Context) {
	var req StartCycleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	options := client.StartWorkflowOptions{
		ID:        "ingest-cycle-" + uuid.NewString(),
		TaskQueue: h.taskQueue,
	}
	run, err := h.temporalClient.ExecuteWorkflow(c.Request.Context(), options, workflow.Name,
		types.CycleParams{Sample: req.Sample, Concurrency: req.Concurrency})
	if err != nil {
		h.logger.Error("failed to start cycle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start workflow: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, StartCycleResponse{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
	})
}

// GetCycleStatus reports the execution status of a cycle, with its summary
// once it has completed.
func (h *WorkflowHandler) GetCycleStatus(c *gin.Context) {
	workflowID := c.Param("id")
	if workflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Workflow ID is required"})
		return
	}

	describe, err := h.temporalClient.DescribeWorkflowExecution(c.Request.Context(), workflowID, "")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Failed to describe workflow: " + err.Error()})
		return
	}
	info := describe.GetWorkflowExecutionInfo()
	resp := gin.H{
		"workflow_id": workflowID,
		"status":      info.GetStatus().String(),
	}
	if st := info.GetStartTime(); st != nil {
		resp["start_time"] = st.AsTime()
	}

	if info.GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED {
		var sum types.CycleSummary
		if err := h.temporalClient.GetWorkflow(c.Request.Context(), workflowID, "").Get(c.Request.Context(), &sum); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read workflow result: " + err.Error()})
			return
		}
		resp["result"] = sum
	}
	c.JSON(http.StatusOK, resp)
}
