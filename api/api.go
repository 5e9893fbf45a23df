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
	"github.com/midnight-artisan/artisan/api/middleware"
	"github.com/midnight-artisan/artisan/config"
	"github.com/midnight-artisan/artisan/internal/apierror"
)

type Api struct {
	artisan *artisan.Artisan
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/products", a.CreateProduct)
	router.GET("/products", a.GetAllProducts)
	router.GET("/products/:id", a.GetProduct)

	router.POST("/orders", a.CreateOrder)
	router.GET("/orders", a.GetAllOrders)
	router.GET("/orders/:id", a.GetOrder)
	router.POST("/orders/:id/invoice", a.ResendInvoice)

	router.POST("/invoices/bulk", a.DispatchBulk)
	router.POST("/invoices/requeue", a.RequeueInvoices)
	router.GET("/invoices/tasks/:id", a.GetTask)
	return a.router
}

func NewAPI(a *artisan.Artisan) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{artisan: a, router: r}
}

// respondError writes err with the status of its apierror code.
func respondError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
