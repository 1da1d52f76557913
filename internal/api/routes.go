package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the engine with recovery, request ids, logging and CORS for origins.
func NewRouter(engine Engine, logger *logrus.Logger, origins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), Logger(logger))

	corsConfig := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	SetupRoutes(router, NewHandler(engine, logger))
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.Health)

	api := router.Group("/api")
	{
		api.GET("/getCities", handler.GetCities)
		api.GET("/getAreas", handler.GetAreas)
		api.GET("/getPriceEntries", handler.GetPriceEntries)
		api.GET("/getHistoricalPpm", handler.GetHistoricalPpm)
		api.GET("/getHistoricalData", handler.GetHistoricalData)
		api.GET("/cities/geojson", handler.GetCityMarkers)
	}
}
