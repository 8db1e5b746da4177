package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"data-act-broker/internal/config"
	"data-act-broker/internal/logger"
	"data-act-broker/internal/model"
	"data-act-broker/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

type RuleSettings interface {
	List(ctx context.Context, agencyCode, file string) (*model.RuleSettingsResponse, error)
	Save(ctx context.Context, req model.SaveRuleSettingsRequest) error
}

type Jobs interface {
	CreateSubmission(ctx context.Context, sub *model.Submission, fileTypes []string) ([]model.Job, error)
	FinalizeUpload(ctx context.Context, jobID int64, storageFilename string, size int64) error
	Reupload(ctx context.Context, submissionID int64, fileType, originalFilename string) (*model.Job, error)
	Status(ctx context.Context, submissionID int64) (*model.SubmissionStatusResponse, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	settings RuleSettings
	jobs     Jobs
	db       Pinger
	cfg      *config.Config
	log      zerolog.Logger
}

func NewHandler(settings RuleSettings, jobs Jobs, db Pinger, cfg *config.Config) *Handler {
	return &Handler{
		settings: settings,
		jobs:     jobs,
		db:       db,
		cfg:      cfg,
		log:      logger.Get().With().Str("component", "api").Logger(),
	}
}

// writeError maps service errors to status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr errors.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, errors.ErrJobNotFound), errors.Is(err, errors.ErrSubmissionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errors.ErrUnknownFileType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errors.ErrInvalidTransition), errors.Is(err, errors.ErrWrongJobType), errors.Is(err, errors.ErrPrerequisites):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *Handler) GetRuleSettings(c *gin.Context) {
	agency := c.Query("agency_code")
	file := c.Query("file")
	if agency == "" || file == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agency_code and file are required"})
		return
	}

	resp, err := h.settings.List(c.Request.Context(), agency, file)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) SaveRuleSettings(c *gin.Context) {
	var req model.SaveRuleSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.settings.Save(c.Request.Context(), req); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Agency " + req.AgencyCode + " rules saved."})
}

func (h *Handler) CreateSubmission(c *gin.Context) {
	var req model.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	start, err := time.Parse(dateLayout, req.ReportingStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reporting_period_start_date must be YYYY-MM-DD"})
		return
	}
	end, err := time.Parse(dateLayout, req.ReportingEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reporting_period_end_date must be YYYY-MM-DD"})
		return
	}

	sub := &model.Submission{
		UserID:          req.UserID,
		CGACCode:        req.CGACCode,
		FRECCode:        req.FRECCode,
		ReportingStart:  start,
		ReportingEnd:    end,
		IsQuarterFormat: req.IsQuarterFormat,
		IsFABS:          req.IsFABS,
		PublishStatus:   model.PublishUnpublished,
	}
	jobs, err := h.jobs.CreateSubmission(c.Request.Context(), sub, req.FileTypes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"submission_id": sub.ID, "jobs": jobs})
}

func (h *Handler) FinalizeJob(c *gin.Context) {
	var req model.FinalizeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.jobs.FinalizeUpload(c.Request.Context(), req.JobID, req.StorageFilename, req.FileSize); err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Info().Int64("job_id", req.JobID).Str("storage_filename", req.StorageFilename).Msg("Upload finalized")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) Reupload(c *gin.Context) {
	submissionID, ok := submissionParam(c)
	if !ok {
		return
	}
	var req model.ReuploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	upload, err := h.jobs.Reupload(c.Request.Context(), submissionID, req.FileType, req.OriginalFilename)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_id": upload.ID})
}

func (h *Handler) GetSubmissionStatus(c *gin.Context) {
	submissionID, ok := submissionParam(c)
	if !ok {
		return
	}

	status, err := h.jobs.Status(c.Request.Context(), submissionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func submissionParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid submission ID"})
		return 0, false
	}
	return id, true
}

func (h *Handler) HealthCheck(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		h.log.Error().Err(err).Msg("Database ping failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "service": h.cfg.App.Name})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	})
}
