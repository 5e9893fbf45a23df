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
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/midnight-artisan/artisan/api/model"
)

// CreateOrder answers 201 even when the invoice could not be queued; the response then
// carries a warning instead of a task_id.
func (a Api) CreateOrder(c *gin.Context) {
	var newOrder model2.CreateOrder
	if err := c.ShouldBindJSON(&newOrder); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newOrder.ValidateCreateOrder(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	order, items := newOrder.ToOrder()
	result, err := a.artisan.CreateOrder(c.Request.Context(), order, items)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"message": result.Message, "data": result.Order}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	} else {
		resp["task_id"] = result.TaskID
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.artisan.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllOrders(c *gin.Context) {
	limit, offset := ParsePagination(c)
	resp, err := a.artisan.GetAllOrders(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ResendInvoice(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	taskID, err := a.artisan.ResendInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"order_id": id, "task_id": taskID})
}
