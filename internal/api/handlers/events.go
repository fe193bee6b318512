package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coursepulse.io/notifier/internal/domain"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
	"coursepulse.io/notifier/internal/resolver"
)

// TriggerEvent handles POST /api/v1/events: the LMS callback that reports a
// notifiable event the moment it happens.
func (s *Server) TriggerEvent(c *gin.Context) {
	var req struct {
		ResolverKey string         `json:"resolver_key" binding:"required"`
		Payload     domain.Payload `json:"payload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "malformed event body"))
		return
	}

	enqueued, err := s.producer.Trigger(c.Request.Context(), req.ResolverKey, req.Payload)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": enqueued})
}

// QueueStats handles GET /api/v1/queue/stats.
func (s *Server) QueueStats(c *gin.Context) {
	n, err := s.events.Count(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": n})
}

// resolverDescriptor is the admin-facing description of one notifiable
// event kind.
type resolverDescriptor struct {
	Key                 string   `json:"key"`
	Title               string   `json:"title"`
	AvailableSchedules  []string `json:"available_schedules"`
	AvailableRecipients []string `json:"available_recipients"`
	DefaultChannels     []string `json:"default_channels"`
	Scheduled           bool     `json:"scheduled"`
	SupportsCriteria    bool     `json:"supports_criteria"`
}

// ListResolvers handles GET /api/v1/resolvers.
func (s *Server) ListResolvers(c *gin.Context) {
	keys := s.resolvers.Keys()
	items := make([]resolverDescriptor, 0, len(keys))
	for _, key := range keys {
		res, err := s.resolvers.Get(key)
		if err != nil {
			continue
		}
		_, scheduled := res.(resolver.ScheduledEventResolver)
		_, criteria := res.(resolver.AdditionalCriteriaResolver)
		items = append(items, resolverDescriptor{
			Key:                 res.Key(),
			Title:               res.Title(),
			AvailableSchedules:  scheduleNames(res.AvailableSchedules()),
			AvailableRecipients: res.AvailableRecipients(),
			DefaultChannels:     res.DefaultDeliveryChannels(),
			Scheduled:           scheduled,
			SupportsCriteria:    criteria,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func scheduleNames(schedules []resolver.Schedule) []string {
	out := make([]string, 0, len(schedules))
	for _, s := range schedules {
		switch s {
		case resolver.ScheduleOnEvent:
			out = append(out, "on_event")
		case resolver.ScheduleBeforeEvent:
			out = append(out, "before_event")
		case resolver.ScheduleAfterEvent:
			out = append(out, "after_event")
		}
	}
	return out
}

// Health handles GET /healthz.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
