package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/middlewares"
	"bitbucket.org/mmdatafocus/operations_backend/models"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"bitbucket.org/mmdatafocus/operations_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = "8080"

var tracer = otel.Tracer("operations-backend")

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// writeDomainError maps domain errors onto HTTP statuses. Retryable failures
// get 503 so callers (and Cloud Run) know a replay of the same request is safe.
func writeDomainError(c *gin.Context, err error) {
	var overReceipt *utils.OverReceiptError
	var notFound *utils.OrderNotFoundError
	var exhausted *utils.SequenceExhaustedError
	var retryable *utils.RetryableError

	switch {
	case errors.As(err, &overReceipt):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":           overReceipt.Error(),
			"brand_name":      overReceipt.BrandName,
			"model_no":        overReceipt.ModelNo,
			"ordered_qty":     overReceipt.Ordered,
			"attempted_total": overReceipt.AttemptedTotal,
		})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &exhausted):
		c.JSON(http.StatusConflict, gin.H{"error": exhausted.Error()})
	case errors.As(err, &retryable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": retryable.Error(), "retryable": true})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func createReceiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "createReceipt", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		var input models.NewGoodsReceivedNote
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		grn, po, err := models.CreateGoodsReceivedNote(ctx, &input)
		if err != nil {
			writeDomainError(c, err)
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		resp := gin.H{
			"id":             grn.ID,
			"grn_number":     grn.GrnNumber,
			"fiscal_year":    grn.FiscalYear,
			"correlation_id": cid,
		}
		if po != nil {
			resp["purchase_order_id"] = po.ID
			resp["order_status"] = po.CurrentStatus
		}
		c.JSON(http.StatusCreated, resp)
	}
}

type documentNumberRequest struct {
	Prefix     string    `json:"prefix" binding:"required"`
	FiscalDate time.Time `json:"fiscal_date" binding:"required"`
}

// Standalone allocation endpoint for document types whose persistence lives in
// other services. The number is only reserved once the caller persists a
// document carrying it; until then a crashed caller just leaves a hole.
func documentNumberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "generateDocumentNumber", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		var req documentNumberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok || businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business id is required"})
			return
		}

		number, seqNo, err := models.GenerateDocumentNumber(ctx, businessId, req.Prefix, req.FiscalDate)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"document_number": number,
			"sequence_no":     seqNo,
			"fiscal_year":     utils.FiscalYearFromDate(req.FiscalDate),
		})
	}
}

func createPurchaseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "createPurchaseOrder", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		var input models.NewPurchaseOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		po, err := models.CreatePurchaseOrder(ctx, &input)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusCreated, po)
	}
}

func getPurchaseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var uri struct {
			Id int `uri:"id" binding:"required"`
		}
		if err := c.ShouldBindUri(&uri); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		po, err := models.GetPurchaseOrder(ctx, uri.Id)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, po)
	}
}

func getGoodsReceivedNoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var uri struct {
			Id int `uri:"id" binding:"required"`
		}
		if err := c.ShouldBindUri(&uri); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		grn, err := models.GetGoodsReceivedNote(ctx, uri.Id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "goods received note not found"})
				return
			}
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, grn)
	}
}

func listGoodsReceivedNotesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var query struct {
			PurchaseOrderId *int `form:"purchase_order_id"`
		}
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		grns, err := models.GetGoodsReceivedNotes(ctx, query.PurchaseOrderId)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, grns)
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(middlewares.ContextMiddleware())
	r.Use(readinessGate())

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "X-Business-Id", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "X-Correlation-Id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/internal/receipts", createReceiptHandler())
	r.POST("/internal/document-numbers", documentNumberHandler())
	r.POST("/internal/purchase-orders", createPurchaseOrderHandler())
	r.GET("/internal/purchase-orders/:id", getPurchaseOrderHandler())
	r.GET("/internal/goods-received-notes", listGoodsReceivedNotesHandler())
	r.GET("/internal/goods-received-notes/:id", getGoodsReceivedNoteHandler())

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.OutboxDispatchEnabled() {
		go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("OUTBOX_DISPATCH=false; document events will accumulate unpublished")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port " + port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// readinessGate answers the Cloud Run startup probe directly and refuses app
// endpoints until both the DB and Redis are connected. Both come up after the
// listener (see main), and the sequence counter needs Redis for atomic
// allocation across instances, so a request must not reach the models before
// either is ready.
func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}
