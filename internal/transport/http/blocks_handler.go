package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"agendia/backend/internal/domain"
	"agendia/backend/internal/service/blocks"
	"agendia/backend/internal/store"
)

type blocksService interface {
	CreateSingleBlock(ctx context.Context, in blocks.CreateBlockInput) (domain.BlockedInterval, error)
	CreateRecurringBlock(ctx context.Context, in blocks.CreateRecurringBlockInput) (domain.RecurringPattern, error)
	QueryEffectiveBlocks(ctx context.Context, q store.EffectiveBlockQuery) ([]domain.EffectiveBlock, error)
	DeleteOrModify(ctx context.Context, tenantID string, intervalID uuid.UUID, scope blocks.Scope, reason string) error
}

type BlocksHandler struct {
	svc blocksService
	log *slog.Logger
}

func NewBlocksHandler(svc blocksService, log *slog.Logger) *BlocksHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BlocksHandler{
		svc: svc,
		log: log.With(slog.String("component", "http.blocks")),
	}
}

func (h *BlocksHandler) Register(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1")
	v1.Post("/blocks", h.createSingleBlock)
	v1.Post("/blocks/recurring", h.createRecurringBlock)
	v1.Get("/blocks", h.queryEffectiveBlocks)
	v1.Delete("/blocks/:id", h.deleteOrModify)
}

type createBlockRequest struct {
	ClinicID       string `json:"clinic_id"`
	ProfessionalID string `json:"professional_id"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	BlockType      string `json:"block_type"`
	Reason         string `json:"reason"`
}

type recurrenceRequest struct {
	Frequency        string `json:"frequency"`
	Interval         int    `json:"interval"`
	DaysOfWeek       []int  `json:"days_of_week"`
	DayOfMonth       int    `json:"day_of_month"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	OccurrencesCount *int   `json:"occurrences_count"`
}

type createRecurringBlockRequest struct {
	createBlockRequest
	Recurrence recurrenceRequest `json:"recurrence"`
}

func (h *BlocksHandler) createSingleBlock(c *fiber.Ctx) error {
	log := h.log.With(slog.String("route", "CreateSingleBlock"))

	tenantID, err := tenantID(c)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "missing_tenant"))
		return badRequest(c, err.Error())
	}

	var req createBlockRequest
	if err := c.BodyParser(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_body"), slog.String("tenant_id", tenantID))
		return badRequest(c, "invalid request body")
	}

	in, err := req.toInput(tenantID)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("tenant_id", tenantID))
		return badRequest(c, err.Error())
	}

	interval, err := h.svc.CreateSingleBlock(c.UserContext(), in)
	if err != nil {
		return h.mapError(c, log, tenantID, err, "single block create failed")
	}

	log.Info(
		"single block created",
		slog.String("interval_id", interval.ID.String()),
		slog.String("tenant_id", tenantID),
		slog.Time("date", interval.Date),
	)
	return c.Status(fiber.StatusCreated).JSON(toBlockedIntervalResponse(interval))
}

func (h *BlocksHandler) createRecurringBlock(c *fiber.Ctx) error {
	log := h.log.With(slog.String("route", "CreateRecurringBlock"))

	tenantID, err := tenantID(c)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "missing_tenant"))
		return badRequest(c, err.Error())
	}

	var req createRecurringBlockRequest
	if err := c.BodyParser(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_body"), slog.String("tenant_id", tenantID))
		return badRequest(c, "invalid request body")
	}

	base, err := req.createBlockRequest.toInput(tenantID)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("tenant_id", tenantID))
		return badRequest(c, err.Error())
	}
	rule, err := req.Recurrence.toInput()
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("tenant_id", tenantID))
		return badRequest(c, err.Error())
	}

	pattern, err := h.svc.CreateRecurringBlock(c.UserContext(), blocks.CreateRecurringBlockInput{
		TenantID:       tenantID,
		ClinicID:       base.ClinicID,
		ProfessionalID: base.ProfessionalID,
		Recurrence:     rule,
		StartMinute:    base.StartMinute,
		EndMinute:      base.EndMinute,
		BlockType:      base.BlockType,
		Reason:         base.Reason,
	})
	if err != nil {
		return h.mapError(c, log, tenantID, err, "recurring block create failed")
	}

	log.Info(
		"recurring block created",
		slog.String("pattern_id", pattern.ID.String()),
		slog.String("series_id", pattern.SeriesID.String()),
		slog.String("tenant_id", tenantID),
	)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"pattern_id": pattern.ID.String(),
		"series_id":  pattern.SeriesID.String(),
	})
}

func (h *BlocksHandler) queryEffectiveBlocks(c *fiber.Ctx) error {
	log := h.log.With(slog.String("route", "QueryEffectiveBlocks"))

	tenantID, err := tenantID(c)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "missing_tenant"))
		return badRequest(c, err.Error())
	}

	clinicID, err := uuid.Parse(c.Query("clinic_id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_clinic_id"), slog.String("tenant_id", tenantID))
		return badRequest(c, "clinic_id must be a UUID")
	}

	var professionalID *uuid.UUID
	if raw := c.Query("professional_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			log.Warn("invalid request", slog.String("reason", "invalid_professional_id"), slog.String("tenant_id", tenantID))
			return badRequest(c, "professional_id must be a UUID")
		}
		professionalID = &id
	}

	from, err := parseDate(c.Query("from"))
	if err != nil {
		return badRequest(c, "from must be a date (YYYY-MM-DD)")
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		return badRequest(c, "to must be a date (YYYY-MM-DD)")
	}

	result, err := h.svc.QueryEffectiveBlocks(c.UserContext(), store.EffectiveBlockQuery{
		TenantID:       tenantID,
		ClinicID:       clinicID,
		ProfessionalID: professionalID,
		RangeStart:     from,
		RangeEnd:       to,
	})
	if err != nil {
		return h.mapError(c, log, tenantID, err, "effective block query failed")
	}

	out := make([]fiber.Map, 0, len(result))
	for _, b := range result {
		out = append(out, toEffectiveBlockResponse(b))
	}

	log.Debug(
		"effective blocks listed",
		slog.String("tenant_id", tenantID),
		slog.Int("count", len(out)),
		slog.Time("from", from),
		slog.Time("to", to),
	)
	return c.JSON(fiber.Map{"blocks": out})
}

func (h *BlocksHandler) deleteOrModify(c *fiber.Ctx) error {
	log := h.log.With(slog.String("route", "DeleteOrModify"))

	tenantID, err := tenantID(c)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "missing_tenant"))
		return badRequest(c, err.Error())
	}

	intervalID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("tenant_id", tenantID))
		return badRequest(c, "block id must be a UUID")
	}

	scope, err := blocks.ParseScope(c.Query("scope", string(blocks.ScopeThisOccurrence)))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_scope"), slog.String("tenant_id", tenantID))
		return badRequest(c, err.Error())
	}
	reason := c.Query("reason")

	if err := h.svc.DeleteOrModify(c.UserContext(), tenantID, intervalID, scope, reason); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("block not found", slog.String("interval_id", intervalID.String()), slog.String("tenant_id", tenantID))
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "nothing to delete"})
		}
		return h.mapError(c, log, tenantID, err, "scoped delete failed")
	}

	log.Info(
		"block deleted",
		slog.String("interval_id", intervalID.String()),
		slog.String("scope", string(scope)),
		slog.String("tenant_id", tenantID),
	)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *BlocksHandler) mapError(c *fiber.Ctx, log *slog.Logger, tenantID string, err error, msg string) error {
	var vErr *blocks.ValidationError
	if errors.As(err, &vErr) {
		log.Warn("invalid request", slog.Any("err", err), slog.String("tenant_id", tenantID))
		return badRequest(c, vErr.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		log.Info("not found", slog.String("tenant_id", tenantID))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	if errors.Is(err, store.ErrConflict) {
		log.Info("conflict", slog.String("tenant_id", tenantID))
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "this occurrence already has an exception"})
	}
	if errors.Is(err, store.ErrPartialFailure) {
		log.Error(msg, slog.Any("err", err), slog.String("tenant_id", tenantID), slog.Bool("partial", true))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "operation partially applied; retry required",
		})
	}
	log.Error(msg, slog.Any("err", err), slog.String("tenant_id", tenantID))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func tenantID(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Get("X-Tenant-ID"))
	if id == "" {
		return "", errors.New("X-Tenant-ID header is required")
	}
	return id, nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func (r createBlockRequest) toInput(tenantID string) (blocks.CreateBlockInput, error) {
	clinicID, err := uuid.Parse(r.ClinicID)
	if err != nil {
		return blocks.CreateBlockInput{}, errors.New("clinic_id must be a UUID")
	}

	var professionalID *uuid.UUID
	if r.ProfessionalID != "" {
		id, err := uuid.Parse(r.ProfessionalID)
		if err != nil {
			return blocks.CreateBlockInput{}, errors.New("professional_id must be a UUID")
		}
		professionalID = &id
	}

	date, err := parseDate(r.Date)
	if err != nil {
		return blocks.CreateBlockInput{}, errors.New("date must be a date (YYYY-MM-DD)")
	}
	startMinute, err := parseClock(r.StartTime)
	if err != nil {
		return blocks.CreateBlockInput{}, errors.New("start_time must be a clock time (HH:MM)")
	}
	endMinute, err := parseClock(r.EndTime)
	if err != nil {
		return blocks.CreateBlockInput{}, errors.New("end_time must be a clock time (HH:MM)")
	}

	return blocks.CreateBlockInput{
		TenantID:       tenantID,
		ClinicID:       clinicID,
		ProfessionalID: professionalID,
		Date:           date,
		StartMinute:    startMinute,
		EndMinute:      endMinute,
		BlockType:      domain.BlockType(r.BlockType),
		Reason:         r.Reason,
	}, nil
}

func (r recurrenceRequest) toInput() (blocks.RecurrenceInput, error) {
	startDate, err := parseDate(r.StartDate)
	if err != nil {
		return blocks.RecurrenceInput{}, errors.New("recurrence.start_date must be a date (YYYY-MM-DD)")
	}

	var endDate *time.Time
	if r.EndDate != "" {
		d, err := parseDate(r.EndDate)
		if err != nil {
			return blocks.RecurrenceInput{}, errors.New("recurrence.end_date must be a date (YYYY-MM-DD)")
		}
		endDate = &d
	}

	var mask int16
	for _, wd := range r.DaysOfWeek {
		if wd < 0 || wd > 6 {
			return blocks.RecurrenceInput{}, errors.New("recurrence.days_of_week values must be 0 (Sunday) through 6 (Saturday)")
		}
		mask |= 1 << wd
	}

	return blocks.RecurrenceInput{
		Frequency:        domain.Frequency(r.Frequency),
		Interval:         r.Interval,
		DaysOfWeek:       mask,
		DayOfMonth:       r.DayOfMonth,
		StartDate:        startDate,
		EndDate:          endDate,
		OccurrencesCount: r.OccurrencesCount,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

func toBlockedIntervalResponse(b domain.BlockedInterval) fiber.Map {
	out := fiber.Map{
		"id":         b.ID.String(),
		"clinic_id":  b.ClinicID.String(),
		"date":       b.Date.Format("2006-01-02"),
		"start_time": formatClock(b.StartMinute),
		"end_time":   formatClock(b.EndMinute),
		"block_type": string(b.BlockType),
		"reason":     b.Reason,
		"recurring":  b.IsRecurring,
	}
	if b.ProfessionalID != nil {
		out["professional_id"] = b.ProfessionalID.String()
	}
	if b.SeriesID != nil {
		out["series_id"] = b.SeriesID.String()
	}
	return out
}

func toEffectiveBlockResponse(b domain.EffectiveBlock) fiber.Map {
	out := fiber.Map{
		"clinic_id":  b.ClinicID.String(),
		"date":       b.Date.Format("2006-01-02"),
		"start_time": formatClock(b.StartMinute),
		"end_time":   formatClock(b.EndMinute),
		"block_type": string(b.BlockType),
		"reason":     b.Reason,
	}
	if b.ProfessionalID != nil {
		out["professional_id"] = b.ProfessionalID.String()
	}
	if b.SeriesID != nil {
		out["series_id"] = b.SeriesID.String()
	}
	if b.IntervalID != nil {
		out["interval_id"] = b.IntervalID.String()
	}
	return out
}
