// Package httpapi exposes a local status surface for the running
// client: roster, per-link state and the latest health reports.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/blcknd/huddle/internal/config"
	"github.com/blcknd/huddle/internal/domain"
	"github.com/blcknd/huddle/internal/mesh"
	"github.com/blcknd/huddle/internal/mesh/health"
)

type linkView struct {
	Peer     domain.ParticipantID `json:"peer"`
	Username string               `json:"username,omitempty"`
	State    string               `json:"state"`
}

func SetupRouter(cfg *config.Config, orch *mesh.Orchestrator, sampler *health.Sampler) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.httpapi").Int("port", cfg.StatusPort).Msg("status router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		roster := orch.Roster()
		members := roster.Snapshot()
		states := orch.LinkStates()

		links := make([]linkView, 0, len(states))
		for id, s := range states {
			view := linkView{Peer: id, State: s.String()}
			if p, ok := roster.Get(id); ok {
				view.Username = p.Username
			}
			links = append(links, view)
		}

		audio, video := orch.MediaState()
		c.JSON(http.StatusOK, gin.H{
			"room":    roster.Room().ID,
			"members": members,
			"links":   links,
			"self": gin.H{
				"audioEnabled": audio,
				"videoEnabled": video,
			},
		})
	})

	api.GET("/health", func(c *gin.Context) {
		if sampler == nil {
			c.JSON(http.StatusOK, gin.H{"reports": gin.H{}})
			return
		}
		reports := sampler.Latest()
		out := make(map[string]health.Report, len(reports))
		for id, rep := range reports {
			out[string(id)] = rep
		}
		c.JSON(http.StatusOK, gin.H{"reports": out})
	})

	return r
}
