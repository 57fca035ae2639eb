/*
Copyright 2022 The Koordinator Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package core

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/services"
)

var _ services.APIServiceProvider = &Scheduler{}

type ChainsResponse struct {
	Filters  []string                `json:"filters"`
	Weighers []framework.WeigherInfo `json:"weighers"`
}

// SelectRequest is the body of a placement call over HTTP.
type SelectRequest struct {
	Spec             v1alpha1.RequestSpec       `json:"spec"`
	FilterProperties *v1alpha1.FilterProperties `json:"filterProperties,omitempty"`
}

type SelectResponse struct {
	Selections       []v1alpha1.Selection       `json:"selections"`
	FilterProperties *v1alpha1.FilterProperties `json:"filterProperties,omitempty"`
}

func (s *Scheduler) RegisterEndpoints(group *gin.RouterGroup) {
	group.GET("/chains", func(c *gin.Context) {
		c.JSON(http.StatusOK, ChainsResponse{
			Filters:  s.framework.FilterNames(),
			Weighers: s.framework.Weighers(),
		})
	})
	group.POST("/select", func(c *gin.Context) {
		var req SelectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			services.ResponseErrorMessage(c, http.StatusBadRequest, "invalid select request: %v", err)
			return
		}
		selections, err := s.SelectDestinations(c.Request.Context(), &req.Spec, req.FilterProperties)
		if IsNoValidHost(err) {
			services.ResponseErrorMessage(c, http.StatusConflict, "%s", err.Error())
			return
		}
		if err != nil {
			services.ResponseErrorMessage(c, http.StatusBadRequest, "%s", err.Error())
			return
		}
		c.JSON(http.StatusOK, SelectResponse{Selections: selections, FilterProperties: req.FilterProperties})
	})
}
