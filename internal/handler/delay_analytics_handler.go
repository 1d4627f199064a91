package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/repository"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/service"
	"github.com/HSLdevcom/hfp-analytics-sub000/pkg/response"
)

// Preprocessor runs Level-1 preprocessing
type Preprocessor interface {
	Run(ctx context.Context, oday string, routeIDs []string, force bool) (*service.PreprocessReport, error)
}

// Reclusterer serves Level-2 recluster jobs
type Reclusterer interface {
	Request(ctx context.Context, table string, p *models.ReclusterParams) (*service.RequestResult, error)
	Status(ctx context.Context, table string, p *models.ReclusterParams) (*models.ReclusterJob, error)
	Reset(ctx context.Context, table string, p *models.ReclusterParams) (bool, error)
}

// DelayAnalyticsHandler handles HTTP requests for delay hot-spot analytics
type DelayAnalyticsHandler struct {
	preprocess Preprocessor
	recluster  Reclusterer
}

// NewDelayAnalyticsHandler creates a new delay analytics handler
func NewDelayAnalyticsHandler(preprocess Preprocessor, recluster Reclusterer) *DelayAnalyticsHandler {
	return &DelayAnalyticsHandler{preprocess: preprocess, recluster: recluster}
}

// Preprocess classifies and clusters the routes of one oday
// POST /api/v1/delay_analytics/preprocess
func (h *DelayAnalyticsHandler) Preprocess(c *gin.Context) {
	var q models.PreprocessQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Invalid(c, map[string]string{"force": "must be a boolean"})
		return
	}
	if err := q.Validate(); err != nil {
		respondInvalid(c, err)
		return
	}

	report, err := h.preprocess.Run(c.Request.Context(), q.Date, q.RouteIDList(), q.Force)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, report)
}

// RouteCluster returns route superclusters
// GET /api/v1/delay_analytics/routecluster
func (h *DelayAnalyticsHandler) RouteCluster(c *gin.Context) {
	h.cluster(c, models.TableReclusterRoutes)
}

// ModeCluster returns transport mode superclusters
// GET /api/v1/delay_analytics/modecluster
func (h *DelayAnalyticsHandler) ModeCluster(c *gin.Context) {
	h.cluster(c, models.TableReclusterModes)
}

func (h *DelayAnalyticsHandler) cluster(c *gin.Context, table string) {
	p, ok := bindRecluster(c)
	if !ok {
		return
	}

	res, err := h.recluster.Request(c.Request.Context(), table, p)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	switch {
	case res.Pending() || res.Status == models.JobStatusFailed:
		response.Accepted(c, res)
	case res.NoData:
		response.NoContent(c)
	default:
		data, err := res.Bundle.Zip()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Attachment(c, res.Bundle.Name+".zip", "application/zip", data)
	}
}

// Status returns the status record of a recluster job
// GET /api/v1/delay_analytics/status
func (h *DelayAnalyticsHandler) Status(c *gin.Context) {
	table, p, ok := bindStatus(c)
	if !ok {
		return
	}

	job, err := h.recluster.Status(c.Request.Context(), table, p)
	if errors.Is(err, repository.ErrNotFound) {
		response.NotFound(c, "no recluster job for these parameters")
		return
	}
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, job)
}

// Reset removes a recluster job so the next request starts over
// DELETE /api/v1/delay_analytics/status
func (h *DelayAnalyticsHandler) Reset(c *gin.Context) {
	table, p, ok := bindStatus(c)
	if !ok {
		return
	}

	existed, err := h.recluster.Reset(c.Request.Context(), table, p)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	if !existed {
		response.NotFound(c, "no recluster job for these parameters")
		return
	}
	response.Success(c, gin.H{"reset": true})
}

func bindRecluster(c *gin.Context) (*models.ReclusterParams, bool) {
	var q models.ReclusterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return nil, false
	}
	p, err := q.Parse()
	if err != nil {
		respondInvalid(c, err)
		return nil, false
	}
	return p, true
}

func bindStatus(c *gin.Context) (string, *models.ReclusterParams, bool) {
	table := c.DefaultQuery("table", models.TableReclusterRoutes)
	if table != models.TableReclusterRoutes && table != models.TableReclusterModes {
		response.Invalid(c, map[string]string{"table": "must be recluster_routes or recluster_modes"})
		return "", nil, false
	}
	p, ok := bindRecluster(c)
	return table, p, ok
}

func respondInvalid(c *gin.Context, err error) {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		response.Invalid(c, ve.Fields)
		return
	}
	response.BadRequest(c, err.Error())
}
