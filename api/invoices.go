/*
Copyright 2024 Blnk Finance Authors.

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
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/midnight-artisan/artisan"
	model2 "github.com/midnight-artisan/artisan/api/model"
)

func (a Api) DispatchBulk(c *gin.Context) {
	var req model2.BulkInvoice
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := req.ValidateBulkInvoice(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, a.artisan.DispatchBulk(c.Request.Context(), req.OrderIDs))
}

// RequeueInvoices accepts an empty body, which requeues with the default limit.
func (a Api) RequeueInvoices(c *gin.Context) {
	var req model2.RequeueInvoices
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
	}

	if err := req.ValidateRequeueInvoices(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.artisan.RequeueUninvoiced(c.Request.Context(), req.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

func (a Api) GetTask(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.artisan.FindTask(c.Request.Context(), id)
	if errors.Is(err, artisan.ErrTaskLookupUnsupported) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
