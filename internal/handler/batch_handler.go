package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/service"
)

type BatchService interface {
	Register(ctx context.Context, batch *domain.Batch) (*service.RegisterResult, error)
	Get(ctx context.Context, ownerID string, courseID string) (*domain.Batch, error)
	List(ctx context.Context, ownerID string) ([]domain.Batch, error)
	Status(ctx context.Context, ownerID string, courseID string) (*domain.DeliveryState, error)
	UpdateSchedule(ctx context.Context, ownerID string, courseID string, scheduleTime *string) (*domain.Batch, error)
	Trigger(ctx context.Context, ownerID string, courseID string) (string, error)
	Delete(ctx context.Context, ownerID string, courseID string) error
}

type BatchHandler struct {
	service        BatchService
	defaultAPIBase string
}

func NewBatchHandler(service BatchService, defaultAPIBase string) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service, defaultAPIBase: strings.TrimSpace(defaultAPIBase)}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService, defaultAPIBase string) error {
	h, err := NewBatchHandler(service, defaultAPIBase)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:ownerId/:courseId", h.GetBatch)
	v1.Get("/batches/:ownerId/:courseId/status", h.GetStatus)
	v1.Put("/batches/:ownerId/:courseId/schedule", h.UpdateSchedule)
	v1.Post("/batches/:ownerId/:courseId/runs", h.TriggerRun)
	v1.Delete("/batches/:ownerId/:courseId", h.DeleteBatch)

	return nil
}

type createBatchRequest struct {
	OwnerID      string  `json:"ownerId"`
	CourseID     string  `json:"courseId"`
	APIBase      string  `json:"apiBase"`
	Credential   string  `json:"credential"`
	Name         string  `json:"name"`
	Destination  string  `json:"destination"`
	ScheduleTime *string `json:"scheduleTime"`
	Credit       string  `json:"credit"`
	Thumbnail    string  `json:"thumbnail"`
}

type updateScheduleRequest struct {
	ScheduleTime *string `json:"scheduleTime"`
}

// batchResponse never carries the credential.
type batchResponse struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	CourseID     string    `json:"courseId"`
	APIBase      string    `json:"apiBase"`
	Name         string    `json:"name"`
	Destination  string    `json:"destination"`
	ScheduleTime *string   `json:"scheduleTime,omitempty"`
	Credit       string    `json:"credit,omitempty"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	ItemCount    int       `json:"itemCount"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

type createBatchResponse struct {
	Batch batchResponse `json:"batch"`
	RunID string        `json:"runId,omitempty"`
}

type statusResponse struct {
	OwnerID    string    `json:"ownerId"`
	CourseID   string    `json:"courseId"`
	Status     string    `json:"status"`
	Progress   string    `json:"progress"`
	Processed  int       `json:"processed"`
	Total      int       `json:"total"`
	PDFCount   int       `json:"pdfCount"`
	VideoCount int       `json:"videoCount"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
}

type listBatchesResponse struct {
	Data []batchResponse `json:"data"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	apiBase := strings.TrimSpace(req.APIBase)
	if apiBase == "" {
		apiBase = h.defaultAPIBase
	}

	batch := domain.Batch{
		OwnerID:      req.OwnerID,
		CourseID:     req.CourseID,
		APIBase:      apiBase,
		Credential:   strings.TrimSpace(req.Credential),
		Name:         req.Name,
		Destination:  req.Destination,
		ScheduleTime: req.ScheduleTime,
		Credit:       strings.TrimSpace(req.Credit),
		Thumbnail:    strings.TrimSpace(req.Thumbnail),
	}

	result, err := h.service.Register(c.Context(), &batch)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createBatchResponse{
		Batch: toBatchResponse(result.Batch),
		RunID: result.RunID,
	})
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	batches, err := h.service.List(c.Context(), c.Query("ownerId"))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchResponse, 0, len(batches))
	for i := range batches {
		data = append(data, toBatchResponse(&batches[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{Data: data})
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.service.Get(c.Context(), c.Params("ownerId"), c.Params("courseId"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetStatus(c *fiber.Ctx) error {
	state, err := h.service.Status(c.Context(), c.Params("ownerId"), c.Params("courseId"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(statusResponse{
		OwnerID:    state.OwnerID,
		CourseID:   state.CourseID,
		Status:     state.Status.String(),
		Progress:   state.Progress,
		Processed:  state.Processed,
		Total:      state.Total,
		PDFCount:   state.PDFCount,
		VideoCount: state.VideoCount,
		UpdatedAt:  state.UpdatedAt,
	})
}

func (h *BatchHandler) UpdateSchedule(c *fiber.Ctx) error {
	var req updateScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	batch, err := h.service.UpdateSchedule(c.Context(), c.Params("ownerId"), c.Params("courseId"), req.ScheduleTime)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) TriggerRun(c *fiber.Ctx) error {
	runID, err := h.service.Trigger(c.Context(), c.Params("ownerId"), c.Params("courseId"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"runId": runID,
	})
}

func (h *BatchHandler) DeleteBatch(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("ownerId"), c.Params("courseId")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	return batchResponse{
		ID:           b.ID,
		OwnerID:      b.OwnerID,
		CourseID:     b.CourseID,
		APIBase:      b.APIBase,
		Name:         b.Name,
		Destination:  b.Destination,
		ScheduleTime: b.ScheduleTime,
		Credit:       b.Credit,
		Thumbnail:    b.Thumbnail,
		ItemCount:    b.ItemCount,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
