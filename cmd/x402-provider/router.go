package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/x402"
	"github.com/vitwit/x402/config"
	"github.com/vitwit/x402/logger"
	"github.com/vitwit/x402/middleware"
	"github.com/vitwit/x402/types"
)

// newRouter mounts one gated route per configured endpoint. reg may be nil.
func newRouter(app *x402.X402, conf *config.Config, log logger.Logger, reg *prometheus.Registry) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery())

	origins := conf.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"PUT", "PATCH", "POST", "DELETE", "GET", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "accept",
			"origin", "Cache-Control", types.HeaderPayment,
		},
		ExposeHeaders: exposedHeaders(app, conf.Endpoints),
		MaxAge:        12 * time.Hour,
	}))
	if conf.Server.Gzip {
		router.Use(gzip.Gzip(gzip.DefaultCompression))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  x402.Version,
			"protocol": x402.ProtocolVersion,
			"chains":   app.SupportedChains(),
		})
	})
	if reg != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	for _, endpoint := range conf.Endpoints {
		gateCfg, err := endpoint.GateConfig()
		if err != nil {
			return nil, err
		}
		gate, err := app.Gate(gateCfg)
		if err != nil {
			return nil, err
		}

		router.Handle(endpoint.Method, endpoint.Path, gate.Gin(), serveResource(endpoint))
		log.Info("gated endpoint registered", map[string]any{
			"endpoint": endpoint.String(),
			"price":    gateCfg.Price.String(),
			"chainId":  gateCfg.ChainID,
		})
	}

	return router, nil
}

func serveResource(endpoint config.EndpointConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		payment, err := middleware.RequirePayment(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		data := endpoint.Response
		if data == "" {
			data = endpoint.Description
		}
		c.JSON(http.StatusOK, gin.H{
			"data":    data,
			"payment": payment,
		})
	}
}

// exposedHeaders lists the 402 headers browsers need to read, including the
// per-chain address headers of every advertised chain.
func exposedHeaders(app *x402.X402, endpoints []config.EndpointConfig) []string {
	headers := []string{
		types.HeaderCost,
		types.HeaderAssetType,
		types.HeaderChainID,
		types.HeaderSupportedChains,
		types.HeaderPaymentFormat,
		types.HeaderTokenAddress,
		types.HeaderPaymentResponse,
	}

	seen := make(map[string]bool)
	add := func(chainID int64) {
		cfg, ok := app.Registry().Config(chainID)
		if !ok {
			cfg = types.ChainConfig{ChainID: chainID}.WithDefaults()
		}
		h := cfg.AddressHeader()
		if !seen[h] {
			seen[h] = true
			headers = append(headers, h)
		}
	}
	for _, e := range endpoints {
		add(e.ChainID)
		for _, id := range e.AdditionalChains {
			add(id)
		}
	}
	return headers
}
