package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/dvloznov/ledger-core/internal/api/middleware"
	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/jobs"
	"github.com/gofiber/fiber/v2"
)

// ExportSupport reports which export types have a configured destination.
type ExportSupport interface {
	Supports(t jobs.JobType) bool
}

type JobsHandler struct {
	svc       Banking
	publisher jobs.Publisher
	store     jobs.JobStore
	support   ExportSupport
}

func NewJobsHandler(svc Banking, publisher jobs.Publisher, store jobs.JobStore, support ExportSupport) *JobsHandler {
	return &JobsHandler{svc: svc, publisher: publisher, store: store, support: support}
}

type exportRequest struct {
	Type string     `json:"type" validate:"required,oneof=ledger_export statement"`
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// EnqueueExport handles POST /v1/accounts/:id/exports
func (h *JobsHandler) EnqueueExport(c *fiber.Ctx) error {
	var req exportRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	jobType := jobs.JobType(req.Type)
	if !h.support.Supports(jobType) {
		return middleware.WriteError(c, http.StatusServiceUnavailable, "Export type "+req.Type+" is not configured")
	}

	accountID := c.Params("id")
	if _, err := h.svc.GetAccount(c.UserContext(), accountID); err != nil {
		return middleware.WriteDomainError(c, err)
	}

	job := &jobs.ExportJob{Type: jobType, AccountID: accountID}
	if req.From != nil {
		job.From = req.From.UTC()
	}
	if req.To != nil {
		job.To = req.To.UTC()
	}
	if !job.From.IsZero() && !job.To.IsZero() && !job.From.Before(job.To) {
		return middleware.WriteJSON(c, http.StatusBadRequest, middleware.ErrorResponse{
			Error: "from must be before to",
			Kind:  domain.KindInputViolation,
		})
	}

	if err := h.publisher.PublishExport(c.UserContext(), job); err != nil {
		return middleware.WriteDomainError(c, err)
	}
	c.Location("/v1/jobs/" + job.JobID)
	return middleware.WriteJSON(c, http.StatusAccepted, job)
}

// GetJob handles GET /v1/jobs/:id
func (h *JobsHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.store.GetJob(c.UserContext(), c.Params("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		return middleware.WriteJSON(c, http.StatusNotFound, middleware.ErrorResponse{
			Error: "Job not found",
			Kind:  domain.KindNotFound,
		})
	}
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, job)
}

// ListJobs handles GET /v1/jobs?account_id=&status=&limit=
func (h *JobsHandler) ListJobs(c *fiber.Ctx) error {
	list, err := h.store.ListJobs(c.UserContext(), jobs.JobFilter{
		AccountID: c.Query("account_id"),
		Status:    jobs.JobStatus(c.Query("status")),
		Limit:     c.QueryInt("limit", 50),
		Offset:    c.QueryInt("offset", 0),
	})
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, fiber.Map{
		"jobs":  list,
		"count": len(list),
	})
}
