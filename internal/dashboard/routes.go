package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/racecontrol/racecontrol/control"
	"github.com/racecontrol/racecontrol/internal/driver"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, d *driver.Driver, hub *Hub) {
	router.GET("/events", handleSSE(hub))

	api := router.Group("/api")

	// Queries.
	api.GET("/session", query(d, func(e *control.Engine, _ *gin.Context) (any, error) {
		return e.Session(), nil
	}))
	api.GET("/standings", query(d, func(e *control.Engine, _ *gin.Context) (any, error) {
		return e.Standings(), nil
	}))
	api.GET("/competitors/:id", query(d, func(e *control.Engine, c *gin.Context) (any, error) {
		return e.Telemetry(c.Param("id"))
	}))
	api.GET("/competitors/:id/directive", query(d, func(e *control.Engine, c *gin.Context) (any, error) {
		return e.Directive(c.Param("id"))
	}))
	api.GET("/competitors/:id/penalties", query(d, func(e *control.Engine, c *gin.Context) (any, error) {
		return e.Penalties(c.Param("id"))
	}))
	api.GET("/incidents", limited(d, func(e *control.Engine, n int) any { return e.RecentIncidents(n) }))
	api.GET("/decisions", limited(d, func(e *control.Engine, n int) any { return e.RecentDecisions(n) }))
	api.GET("/protests", limited(d, func(e *control.Engine, n int) any { return e.RecentProtests(n) }))
	api.GET("/radio", limited(d, func(e *control.Engine, n int) any { return e.RecentTransmissions(n) }))

	// Commands.
	api.POST("/session/:command", handleSessionCommand(d))
	api.POST("/flag", handleSetFlag(d))
	api.POST("/safety-car", handleSafetyCar(d))
	api.POST("/admin/:action", respond(d, http.StatusOK, func(e *control.Engine, c *gin.Context) (any, error) {
		if err := e.HandleAdminAction(control.AdminAction(c.Param("action"))); err != nil {
			return nil, err
		}
		return e.Session().Admin, nil
	}))
	api.POST("/penalties", handleIssuePenalty(d))
	api.DELETE("/competitors/:id/penalties", respond(d, http.StatusOK, func(e *control.Engine, c *gin.Context) (any, error) {
		n, err := e.ClearPenalties(c.Param("id"), control.PenaltyKind(c.Query("kind")))
		return gin.H{"cleared": n}, err
	}))
	api.POST("/competitors/:id/blue-flag", respond(d, http.StatusOK, func(e *control.Engine, c *gin.Context) (any, error) {
		if err := e.ShowBlueFlag(c.Param("id")); err != nil {
			return nil, err
		}
		return e.Telemetry(c.Param("id"))
	}))
	api.POST("/incidents", handleReportIncident(d))
	api.POST("/incidents/:id/resolve", respond(d, http.StatusOK, func(e *control.Engine, c *gin.Context) (any, error) {
		return gin.H{"resolved": c.Param("id")}, e.ResolveIncident(c.Param("id"))
	}))
	api.POST("/protests", handleFileProtest(d))
	api.POST("/protests/:id/resolve", handleResolveProtest(d))
	api.POST("/radio", handleTransmit(d))
}

type engineFunc func(e *control.Engine, c *gin.Context) (any, error)

// query runs fn against the engine and answers 200 with its result.
func query(d *driver.Driver, fn engineFunc) gin.HandlerFunc {
	return respond(d, http.StatusOK, fn)
}

func respond(d *driver.Driver, status int, fn engineFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var out any
		err := d.Do(func(e *control.Engine) error {
			var err error
			out, err = fn(e, c)
			return err
		})
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(status, out)
	}
}

// limited serves the retained histories; ?limit=n caps the result (0 = all).
func limited(d *driver.Driver, fn func(e *control.Engine, n int) any) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		var out any
		_ = d.Do(func(e *control.Engine) error {
			out = fn(e, n)
			return nil
		})
		c.JSON(http.StatusOK, out)
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, control.ErrUnknownCompetitor), errors.Is(err, control.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, control.ErrInvalidStateTransition):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// bind decodes the JSON body into req, answering 400 on failure.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// unknown rejects a value outside its closed set before the engine sees it.
func unknown(c *gin.Context, what, value string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "unknown " + what + " " + strconv.Quote(value)})
}

func handleSessionCommand(d *driver.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		command := c.Param("command")
		if !control.IsValidCommand(command) {
			unknown(c, "session command", command)
			return
		}
		respond(d, http.StatusOK, func(e *control.Engine, _ *gin.Context) (any, error) {
			if err := e.HandleSessionCommand(control.Command(command)); err != nil {
				return nil, err
			}
			return e.Session(), nil
		})(c)
	}
}

type flagRequest struct {
	Flag string `json:"flag" binding:"required"`
}

func handleSetFlag(d *driver.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req flagRequest
		if !bind(c, &req) {
			return
		}
		if !control.IsValidFlag(req.Flag) {
			unknown(c, "flag", req.Flag)
			return
		}
		respond(d, http.StatusOK, func(e *control.Engine, _ *gin.Context) (any, error) {
			if err := e.SetFlag(control.Flag(req.Flag)); err != nil {
				return nil, err
			}
			return e.Session(), nil
		})(c)
	}
}

type safetyCarRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func handleSafetyCar(d *driver.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req safetyCarRequest
		if !bind(c, &req) {
			return
		}
		if !control.IsValidSafetyCarMode(req.Mode) {
			unknown(c, "safety car mode", req.Mode)
			return
		}
		respond(d, http.StatusOK, func(e *control.Engine, _ *gin.Context) (any, error) {
			if err := e.DeploySafetyCar(control.SafetyCarMode(req.Mode)); err != nil {
				return nil, err
			}
			return e.Session(), nil
		})(c)
	}
}

type penaltyRequest struct {
	CompetitorID string  `json:"competitor_id" binding:"required"`
	Kind         string  `json:"kind" binding:"required"`
	Seconds      float64 `json:"seconds"`
	Factor       float64 `json:"factor"`
	Reason       string  `json:"reason"`
}

func handleIssuePenalty(d *driver.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req penaltyRequest
		if !bind(c, &req) {
			return
		}
		respond(d, http.StatusCreated, func(e *control.Engine, _ *gin.Context) (any, error) {
			return e.IssuePenalty(control.PenaltyRequest{
				CompetitorID: req.CompetitorID,
				Kind:         req.Kind,
				Seconds:      req.Seconds,
				Factor:       req.Factor,
				Reason:       req.Reason,
			})
		})(c)
	}
}

type incidentRequest struct {
	Type              string            `json:"type" binding:"required"`
	Severity          string            `json:"severity" binding:"required"`
	CompetitorID      string            `json:"competitor_id"`
	OtherCompetitorID string            `json:"other_competitor_id"`
	Location          string            `json:"location"`
	Notes             map[string]string `json:"notes"`
}

func handleReportIncident(d *driver.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req incidentRequest
		if !bind(c, &req) {
			return
		}
		respond(d, http.StatusCreated, func(e *control.Engine, _ *gin.Context) (any, error) {
			return e.ReportIncident(control.IncidentReport{
				Type:              control.IncidentType(req.Type),
				Severity:          control.Severity(req.Severity),
				CompetitorID:      req.CompetitorID,
				OtherCompetitorID: req.OtherCompetitorID,
				Location:          req.Location,
				Notes:             req.Notes,
			})
		})(c)
	}
}

type protestRequest struct {
	CompetitorID string `json:"competitor_id" binding:"required"`
	TargetID     string `json:"target_id"`
	Reason       string `json:"reason"`
}

func handleFileProtest(d *driver.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req protestRequest
		if !bind(c, &req) {
			return
		}
		respond(d, http.StatusCreated, func(e *control.Engine, _ *gin.Context) (any, error) {
			return e.FileProtest(control.ProtestRequest{
				CompetitorID: req.CompetitorID,
				TargetID:     req.TargetID,
				Reason:       req.Reason,
			})
		})(c)
	}
}

type verdictRequest struct {
	Upheld bool `json:"upheld"`
}

func handleResolveProtest(d *driver.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verdictRequest
		if !bind(c, &req) {
			return
		}
		respond(d, http.StatusOK, func(e *control.Engine, c *gin.Context) (any, error) {
			return e.ResolveProtest(c.Param("id"), req.Upheld)
		})(c)
	}
}

type transmitRequest struct {
	From         string `json:"from" binding:"required"`
	Message      string `json:"message" binding:"required"`
	Tone         string `json:"tone"`
	CompetitorID string `json:"competitor_id"`
}

func handleTransmit(d *driver.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transmitRequest
		if !bind(c, &req) {
			return
		}
		if req.Tone != "" && !control.IsValidTone(req.Tone) {
			unknown(c, "tone", req.Tone)
			return
		}
		respond(d, http.StatusCreated, func(e *control.Engine, _ *gin.Context) (any, error) {
			return e.Transmit(control.Transmission{
				From:         req.From,
				Message:      req.Message,
				Tone:         control.Tone(req.Tone),
				CompetitorID: req.CompetitorID,
			}), nil
		})(c)
	}
}
